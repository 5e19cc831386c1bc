package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"storefront/shopclient/internal/shop"
)

func registerCatalogHandlers(r chi.Router, deps Deps) {
	r.Get("/products", func(w http.ResponseWriter, r *http.Request) {
		products, err := deps.Catalog.Products(r.Context(), strings.TrimSpace(r.URL.Query().Get("category")))
		if err != nil {
			writeFailure(w, r, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(products))
	})

	r.Get("/products/search", func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("query"))
		if q == "" {
			writeFailure(w, r, deps, &shop.ValidationError{Fields: []string{"query"}, Message: "search query is required"})
			return
		}
		products, err := deps.Catalog.SearchProducts(r.Context(), q)
		if err != nil {
			writeFailure(w, r, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(products))
	})

	r.Get("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		p, err := deps.Catalog.Product(r.Context(), id)
		if err != nil {
			writeFailure(w, r, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
