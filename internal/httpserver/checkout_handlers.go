package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"storefront/shopclient/internal/auth"
	"storefront/shopclient/internal/checkout"
)

// ownerID is the signed-in user's id; guarded routes always have one.
func ownerID(w http.ResponseWriter, r *http.Request, deps Deps) (int64, bool) {
	u, ok := deps.Auth.User()
	if !ok {
		writeFailure(w, r, deps, auth.ErrNotAuthenticated)
		return 0, false
	}
	return u.ID, true
}

func lookupCheckout(w http.ResponseWriter, r *http.Request, deps Deps) (*checkout.Controller, bool) {
	owner, ok := ownerID(w, r, deps)
	if !ok {
		return nil, false
	}
	c, err := deps.Checkouts.Get(chi.URLParam(r, "id"), owner)
	if err != nil {
		writeFailure(w, r, deps, err)
		return nil, false
	}
	return c, true
}

func registerCheckoutHandlers(r chi.Router, deps Deps) {
	r.Post("/checkout", func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r, deps)
		if !ok {
			return
		}
		var req struct {
			ProductID    int64  `json:"product_id"`
			SelectedSize string `json:"selected_size"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		c, err := deps.Checkouts.Open(r.Context(), owner, req.ProductID, req.SelectedSize)
		if err != nil {
			writeFailure(w, r, deps, err)
			return
		}
		writeJSON(w, http.StatusCreated, c.Snapshot())
	})

	r.Get("/checkout/{id}", func(w http.ResponseWriter, r *http.Request) {
		c, ok := lookupCheckout(w, r, deps)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, c.Snapshot())
	})

	r.Delete("/checkout/{id}", func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r, deps)
		if !ok {
			return
		}
		if err := deps.Checkouts.Discard(chi.URLParam(r, "id"), owner); err != nil {
			writeFailure(w, r, deps, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Put("/checkout/{id}/shipping", func(w http.ResponseWriter, r *http.Request) {
		c, ok := lookupCheckout(w, r, deps)
		if !ok {
			return
		}
		var req checkout.Shipping
		if !decodeJSON(w, r, &req) {
			return
		}
		respond(w, r, deps)(c.UpdateShipping(req))
	})

	r.Post("/checkout/{id}/submit", func(w http.ResponseWriter, r *http.Request) {
		c, ok := lookupCheckout(w, r, deps)
		if !ok {
			return
		}
		var req *checkout.Shipping
		if r.ContentLength != 0 {
			req = &checkout.Shipping{}
			if !decodeJSON(w, r, req) {
				return
			}
		}
		respond(w, r, deps)(c.Submit(req))
	})

	r.Post("/checkout/{id}/payment/confirm", func(w http.ResponseWriter, r *http.Request) {
		c, ok := lookupCheckout(w, r, deps)
		if !ok {
			return
		}
		respond(w, r, deps)(c.ConfirmPayment())
	})

	r.Post("/checkout/{id}/payment/cancel", func(w http.ResponseWriter, r *http.Request) {
		c, ok := lookupCheckout(w, r, deps)
		if !ok {
			return
		}
		respond(w, r, deps)(c.CancelPayment())
	})
}

func respond(w http.ResponseWriter, r *http.Request, deps Deps) func(checkout.Snapshot, error) {
	return func(snap checkout.Snapshot, err error) {
		if err != nil {
			writeFailure(w, r, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

const streamWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// checkoutStream pushes a snapshot on every checkout change until the
// checkout reaches a terminal stage, is closed, or the client goes away.
func checkoutStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := lookupCheckout(w, r, deps)
		if !ok {
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			deps.Logger.Warn("checkout stream upgrade failed", "checkout_id", c.ID(), "error", err)
			return
		}
		defer conn.Close()

		snaps, unsubscribe := c.Subscribe()
		defer unsubscribe()

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case snap, ok := <-snaps:
				if !ok {
					closeStream(conn, "checkout closed")
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteJSON(snap); err != nil {
					return
				}
				if snap.Stage.Terminal() {
					closeStream(conn, string(snap.Stage))
					return
				}
			}
		}
	}
}

func closeStream(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
}
