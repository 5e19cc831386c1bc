// Package guard decides whether a protected view may render for the current
// authentication state.
package guard

import (
	"encoding/json"
	"net/http"

	"storefront/shopclient/internal/auth"
)

const (
	AuthPath = "/auth"
	HomePath = "/"
)

type Outcome string

const (
	Render   Outcome = "render"
	Loading  Outcome = "loading"
	Redirect Outcome = "redirect"
)

type Decision struct {
	Outcome Outcome `json:"outcome"`
	Target  string  `json:"target,omitempty"`
}

// Decide gates a view that requires a signed-in user. It performs no I/O.
func Decide(state auth.State) Decision {
	switch state {
	case auth.StateAuthenticated:
		return Decision{Outcome: Render}
	case auth.StateAnonymous:
		return Decision{Outcome: Redirect, Target: AuthPath}
	default:
		return Decision{Outcome: Loading}
	}
}

// AuthView gates the sign-in view itself: signed-in users are sent home.
func AuthView(state auth.State) Decision {
	switch state {
	case auth.StateAuthenticated:
		return Decision{Outcome: Redirect, Target: HomePath}
	case auth.StateAnonymous:
		return Decision{Outcome: Render}
	default:
		return Decision{Outcome: Loading}
	}
}

type StateSource interface {
	State() auth.State
}

// Middleware lets a request through only when Decide renders.
func Middleware(src StateSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := Decide(src.State())
			switch d.Outcome {
			case Render:
				next.ServeHTTP(w, r)
			case Loading:
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"view": "loading"})
			default:
				w.Header().Set("Location", d.Target)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"redirect": d.Target})
			}
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
