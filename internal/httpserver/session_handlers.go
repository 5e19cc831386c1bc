package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/shopclient/internal/guard"
	"storefront/shopclient/internal/shop"
)

type sessionView struct {
	State  string     `json:"state"`
	User   *shop.User `json:"user,omitempty"`
	Notice string     `json:"notice,omitempty"`
}

func registerSessionHandlers(r chi.Router, deps Deps) {
	r.Get("/session", func(w http.ResponseWriter, _ *http.Request) {
		view := sessionView{State: string(deps.Auth.State())}
		if u, ok := deps.Auth.User(); ok {
			view.User = &u
		}
		if notice, ok := deps.Auth.TakeNotice(); ok {
			view.Notice = notice
		}
		writeJSON(w, http.StatusOK, view)
	})

	r.Delete("/session/notice", func(w http.ResponseWriter, _ *http.Request) {
		deps.Auth.DismissNotice()
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/auth/view", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, guard.AuthView(deps.Auth.State()))
	})

	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		u, err := deps.Auth.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			writeFailure(w, r, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionView{State: string(deps.Auth.State()), User: &u})
	})

	r.Post("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var req shop.RegisterInput
		if !decodeJSON(w, r, &req) {
			return
		}
		u, err := deps.Auth.Register(r.Context(), req)
		if err != nil {
			writeFailure(w, r, deps, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": u, "next": guard.AuthPath})
	})

	r.Post("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if u, ok := deps.Auth.User(); ok && deps.Checkouts != nil {
			deps.Checkouts.DiscardOwner(u.ID)
		}
		if err := deps.Auth.Logout(r.Context()); err != nil {
			deps.Logger.Error("logout storage failure", "error", err)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func registerProfileHandlers(r chi.Router, deps Deps) {
	r.Put("/profile", func(w http.ResponseWriter, r *http.Request) {
		var patch shop.UserPatch
		if !decodeJSON(w, r, &patch) {
			return
		}
		u, err := deps.Auth.UpdateProfile(r.Context(), patch)
		if err != nil {
			writeFailure(w, r, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	})
}
