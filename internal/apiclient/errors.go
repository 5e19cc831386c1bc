package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNetwork        = errors.New("storefront server unreachable")
	ErrNoCredential   = errors.New("not authenticated")
	ErrNotCancellable = errors.New("order can no longer be cancelled")
)

// APIError is a non-2xx answer from the backend. Message is passed through to
// the user verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// NetworkError means the request never got an HTTP answer. It does not imply
// the credential is bad.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: cannot reach the storefront server, check that the server is running: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// UserMessage renders err the way the storefront shows it to a customer.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return "Cannot reach the storefront server. Check that the server is running."
	}
	if errors.Is(err, ErrNoCredential) {
		return "Please sign in."
	}
	return err.Error()
}

// errorMessage extracts the backend's error text. FastAPI answers with
// {"detail": "..."} or, for validation failures, {"detail": [{"msg": ...}]}.
func errorMessage(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text != "" && gjson.ValidBytes(body) {
		detail := gjson.GetBytes(body, "detail")
		switch {
		case detail.Type == gjson.String && detail.String() != "":
			return detail.String()
		case detail.IsArray():
			var msgs []string
			for _, m := range detail.Get("#.msg").Array() {
				if s := strings.TrimSpace(m.String()); s != "" {
					msgs = append(msgs, s)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
		if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String && msg.String() != "" {
			return msg.String()
		}
		return http.StatusText(status)
	}
	if text != "" {
		return text
	}
	return http.StatusText(status)
}
