package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"storefront/shopclient/internal/audit"
	"storefront/shopclient/internal/shop"
)

type orderView struct {
	shop.Order
	StatusLabel string              `json:"status_label"`
	Cancellable bool                `json:"cancellable"`
	Tracking    []shop.TrackingStep `json:"tracking,omitempty"`
}

func viewOrder(o shop.Order, withTracking bool) orderView {
	v := orderView{Order: o, StatusLabel: o.Status.Label(), Cancellable: o.Status.Cancellable()}
	if withTracking {
		v.Tracking = o.Status.Tracking()
	}
	return v
}

func registerOrderHandlers(r chi.Router, deps Deps) {
	r.Get("/orders", func(w http.ResponseWriter, r *http.Request) {
		orders, err := deps.Orders.Orders(r.Context())
		if err != nil {
			writeFailure(w, r, deps, err)
			return
		}
		out := make([]orderView, 0, len(orders))
		for _, o := range orders {
			out = append(out, viewOrder(o, false))
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		o, err := deps.Orders.Order(r.Context(), id)
		if err != nil {
			writeFailure(w, r, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOrder(o, true))
	})

	r.Get("/orders/{id}/details", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		o, err := deps.Orders.OrderDetails(r.Context(), id)
		if err != nil {
			writeFailure(w, r, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOrder(o, true))
	})

	r.Post("/orders/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		actor := ""
		if u, ok := deps.Auth.User(); ok {
			actor = u.Username
		}
		target := strconv.FormatInt(id, 10)
		o, err := deps.Orders.CancelOrder(r.Context(), id)
		if err != nil {
			auditReq(deps.Audit, r, actor, audit.ActionOrderCancel, target, audit.OutcomeFailed, err.Error())
			writeFailure(w, r, deps, err)
			return
		}
		auditReq(deps.Audit, r, actor, audit.ActionOrderCancel, target, audit.OutcomeSuccess, "")
		writeJSON(w, http.StatusOK, viewOrder(o, true))
	})
}
