package websocket

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"RestoPOS/app/models"
	"RestoPOS/app/security"
	"RestoPOS/app/services"
)

// APIKeyHeader carries the till's API key
const APIKeyHeader = "X-API-Key"

// RESTHandlers provides the HTTP endpoints tills synchronize against
type RESTHandlers struct {
	orders    *services.OrderService
	receipts  *services.ReceiptStore
	server    *Server
	keyHashes []string
	logger    *services.LoggerService

	// sha256 of keys that already passed bcrypt
	verified sync.Map
}

// NewRESTHandlers creates a new REST handlers instance
func NewRESTHandlers(orders *services.OrderService, receipts *services.ReceiptStore, server *Server, keyHashes []string, logger *services.LoggerService) *RESTHandlers {
	return &RESTHandlers{
		orders:    orders,
		receipts:  receipts,
		server:    server,
		keyHashes: keyHashes,
		logger:    logger,
	}
}

// KitchenRequest is the body of POST /api/orders/{id}/kitchen
type KitchenRequest struct {
	ItemIDs []string `json:"item_ids"`
}

// FinalizeRequest is the body of POST /api/orders/{id}/finalize
type FinalizeRequest struct {
	PaymentMethod string `json:"payment_method"`
	ReceiptURL    string `json:"receipt_url"`
}

// Routes builds the router
func (h *RESTHandlers) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.NoCache)

	r.Get("/health", h.HandleHealth)
	r.Get("/receipts/{file}", h.HandleGetReceipt)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAPIKey)

		r.Get("/ws", h.server.handleWebSocket)

		r.Route("/api", func(r chi.Router) {
			r.Get("/products", h.HandleGetProducts)
			r.Get("/tables", h.HandleGetTables)
			r.Post("/tables/{tableID}/order", h.HandleCreateOrGetOrder)

			r.Route("/orders/{id}", func(r chi.Router) {
				r.Get("/", h.HandleGetOrder)
				r.Put("/", h.HandleUpdateOrder)
				r.Delete("/", h.HandleCancelOrder)
				r.Post("/kitchen", h.HandleSendToKitchen)
				r.Post("/served", h.HandleMarkServed)
				r.Post("/finalize", h.HandleFinalize)
				r.Post("/receipt", h.HandleUploadReceipt)
			})
		})
	})
	return r
}

// requireAPIKey rejects requests without a valid X-API-Key
func (h *RESTHandlers) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}

		sum := sha256.Sum256([]byte(key))
		digest := hex.EncodeToString(sum[:])
		if _, ok := h.verified.Load(digest); !ok {
			if !security.CheckAPIKey(h.keyHashes, key) {
				h.logger.LogWarning("REST API: rejected API key", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			h.verified.Store(digest, struct{}{})
		}
		next.ServeHTTP(w, r)
	})
}

// HandleHealth reports liveness and the connected clients
func (h *RESTHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	clients := 0
	for _, n := range h.server.ClientCounts() {
		clients += n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"clients": clients,
		"time":    time.Now(),
	})
}

// HandleGetProducts returns the active catalog with ingredients
func (h *RESTHandlers) HandleGetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.orders.GetProducts()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// HandleGetTables returns the active tables
func (h *RESTHandlers) HandleGetTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.orders.GetTables()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

// HandleCreateOrGetOrder returns the table's open order, creating it if needed
func (h *RESTHandlers) HandleCreateOrGetOrder(w http.ResponseWriter, r *http.Request) {
	tableID, err := strconv.ParseUint(chi.URLParam(r, "tableID"), 10, 32)
	if err != nil || tableID == 0 {
		writeError(w, http.StatusBadRequest, "invalid table ID")
		return
	}
	order, err := h.orders.CreateOrGetOrder(uint(tableID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleGetOrder returns one order with its items
func (h *RESTHandlers) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleUpdateOrder replaces the order's pending items
func (h *RESTHandlers) HandleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	order, err := h.orders.UpdateOrder(chi.URLParam(r, "id"), req.Items, req.RemovedItemIDs)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleSendToKitchen marks the listed items as sent and tickets the kitchen
func (h *RESTHandlers) HandleSendToKitchen(w http.ResponseWriter, r *http.Request) {
	var req KitchenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	order, err := h.orders.SendToKitchen(chi.URLParam(r, "id"), req.ItemIDs)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleMarkServed marks the sent items as served
func (h *RESTHandlers) HandleMarkServed(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.MarkServed(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleFinalize records the payment and closes the order
func (h *RESTHandlers) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.orders.Finalize(chi.URLParam(r, "id"), req.PaymentMethod, req.ReceiptURL); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paid"})
}

// HandleCancelOrder cancels an order that never reached the kitchen
func (h *RESTHandlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.CancelUnsentOrder(chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUploadReceipt stores the PNG receipt of an order
func (h *RESTHandlers) HandleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if _, err := h.orders.GetOrder(orderID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, int64(h.receipts.MaxBytes())+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read receipt")
		return
	}
	url, err := h.receipts.Save(orderID, data)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logger.LogInfo("Receipt stored", url)
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

// HandleGetReceipt serves a stored receipt image
func (h *RESTHandlers) HandleGetReceipt(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	const ext = ".png"
	if len(file) <= len(ext) || file[len(file)-len(ext):] != ext {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}
	data, err := h.receipts.Load(file[:len(file)-len(ext)])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// writeServiceError maps service errors to HTTP statuses
func (h *RESTHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrTableNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrOrderAlreadySent), errors.Is(err, services.ErrOrderClosed):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInvalidRequest):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.LogError(fmt.Sprintf("REST API: %s %s failed", r.Method, r.URL.Path), err)
		writeError(w, status, "internal server error")
		return
	}
	h.logger.LogWarning(fmt.Sprintf("REST API: %s %s rejected", r.Method, r.URL.Path), err.Error())
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
