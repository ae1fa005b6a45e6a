package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-lifecycle/internal/engine"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

type productReq struct {
	SKU   string           `json:"sku"`
	Name  string           `json:"name"`
	Price *decimal.Decimal `json:"price,omitempty"`
	Stock *int             `json:"stock,omitempty"`
}

type stockReq struct {
	Stock *int `json:"stock"`
}

type LedgerResp struct {
	Products []engine.Availability       `json:"products"`
	Warnings []orders.ConsistencyWarning `json:"warnings"`
	Drift    []engine.Drift              `json:"drift"`
}

// ProductsHandler serves the catalog and the stock ledger. It shares the engine with
// OrdersHandler.
type ProductsHandler struct {
	Engine Engine
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Put("/products/{id}", h.upsertProduct)
	r.Put("/products/{id}/stock", h.setStock)
	r.Get("/products/{id}/availability", h.availability)
	r.Get("/ledger", h.ledger)
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Products(r.Context()))
}

func (h *ProductsHandler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req productReq
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, "invalid json")
		return
	}
	p, err := h.Engine.UpsertProduct(r.Context(), engine.ProductInput{
		ID:    chi.URLParam(r, "id"),
		SKU:   req.SKU,
		Name:  req.Name,
		Price: req.Price,
		Stock: req.Stock,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) setStock(w http.ResponseWriter, r *http.Request) {
	var req stockReq
	if err := decode(r, &req); err != nil || req.Stock == nil {
		writeBadRequest(w, "stock is required")
		return
	}
	p, err := h.Engine.SetStock(r.Context(), chi.URLParam(r, "id"), *req.Stock)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) availability(w http.ResponseWriter, r *http.Request) {
	av, err := h.Engine.Ledger().AvailableQuantity(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (h *ProductsHandler) ledger(w http.ResponseWriter, r *http.Request) {
	l := h.Engine.Ledger()
	report := l.Report()
	resp := LedgerResp{
		Products: report,
		Warnings: []orders.ConsistencyWarning{},
		Drift:    l.Audit(),
	}
	for _, av := range report {
		if av.Warning != nil {
			resp.Warnings = append(resp.Warnings, *av.Warning)
		}
	}
	if resp.Drift == nil {
		resp.Drift = []engine.Drift{}
	}
	writeJSON(w, http.StatusOK, resp)
}
