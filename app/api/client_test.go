package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/shopspring/decimal"

	"RestoPOS/app/models"
	"RestoPOS/app/ordersync"
)

const testKey = "till-secret"

func newTestServer(t *testing.T) (*httptest.Server, *models.Order) {
	t.Helper()
	order := &models.Order{
		ID:            "3f0e4bd6-5a3c-4d0e-9a8e-6f1e6c1a2b3c",
		TableID:       4,
		Status:        models.OrderStatusOpen,
		KitchenStatus: models.KitchenNotSent,
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(APIKeyHeader) != testKey {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid API key"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	r.Get("/api/products", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []models.Product{{ID: 1, Name: "Burger", Price: decimal.NewFromInt(10)}})
	})
	r.Post("/api/tables/{tableID}/order", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "tableID") != "4" {
			http.Error(w, "wrong table", http.StatusBadRequest)
			return
		}
		writeJSON(w, order)
	})
	r.Get("/api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != order.ID {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"order not found"}`))
			return
		}
		writeJSON(w, order)
	})
	r.Put("/api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req ordersync.UpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		updated := order.Clone()
		for _, item := range req.Items {
			item.ClientRef = item.ID
			item.ID = "9b2d6a4e-1c3f-4e5a-8b7c-0d1e2f3a4b5c"
			updated.Items = append(updated.Items, item)
		}
		writeJSON(w, updated)
	})
	r.Post("/api/orders/{id}/kitchen", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ItemIDs []string `json:"item_ids"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.ItemIDs) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"no items"}`))
			return
		}
		sent := order.Clone()
		sent.KitchenStatus = models.KitchenSent
		writeJSON(w, sent)
	})
	r.Post("/api/orders/{id}/finalize", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["payment_method"] == "" {
			http.Error(w, "missing method", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"order already sent to kitchen"}`))
	})
	r.Post("/api/orders/{id}/receipt", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if r.Header.Get("Content-Type") != "image/png" || len(data) == 0 {
			http.Error(w, "bad receipt", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"url": "/receipts/" + chi.URLParam(r, "id") + ".png"})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, order
}

func TestClientOrderLifecycle(t *testing.T) {
	srv, order := newTestServer(t)
	c := NewClient(srv.URL+"/", testKey, time.Second)
	ctx := context.Background()

	products, err := c.ListProducts(ctx)
	if err != nil || len(products) != 1 || !products[0].Price.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("ListProducts() = %+v, %v", products, err)
	}

	got, err := c.CreateOrGetOrder(ctx, 4)
	if err != nil || got.ID != order.ID {
		t.Fatalf("CreateOrGetOrder() = %+v, %v", got, err)
	}

	updated, err := c.UpdateOrder(ctx, order.ID, ordersync.UpdateRequest{
		Items: []models.LineItem{{ID: "tmp-0011223344556677", ProductID: 1, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("UpdateOrder() error = %v", err)
	}
	if len(updated.Items) != 1 || updated.Items[0].ClientRef != "tmp-0011223344556677" {
		t.Errorf("UpdateOrder() items = %+v", updated.Items)
	}

	sent, err := c.SendToKitchen(ctx, order.ID, []string{updated.Items[0].ID})
	if err != nil || sent.KitchenStatus != models.KitchenSent {
		t.Fatalf("SendToKitchen() = %+v, %v", sent, err)
	}

	url, err := c.UploadReceipt(ctx, order.ID, []byte{0x89, 'P', 'N', 'G'})
	if err != nil {
		t.Fatalf("UploadReceipt() error = %v", err)
	}
	if want := srv.URL + "/receipts/" + order.ID + ".png"; url != want {
		t.Errorf("UploadReceipt() = %q, want %q", url, want)
	}

	if err := c.Finalize(ctx, order.ID, "cash", url); err != nil {
		t.Errorf("Finalize() error = %v", err)
	}
}

func TestClientErrors(t *testing.T) {
	srv, order := newTestServer(t)
	ctx := context.Background()

	t.Run("missingOrderIsNil", func(t *testing.T) {
		c := NewClient(srv.URL, testKey, time.Second)
		got, err := c.GetOrder(ctx, "00000000-0000-0000-0000-000000000000")
		if err != nil || got != nil {
			t.Errorf("GetOrder() = %+v, %v; want nil, nil", got, err)
		}
	})

	t.Run("statusErrorCarriesMessage", func(t *testing.T) {
		c := NewClient(srv.URL, testKey, time.Second)
		err := c.CancelUnsentOrder(ctx, order.ID)
		if !IsStatus(err, http.StatusConflict) {
			t.Fatalf("CancelUnsentOrder() error = %v, want 409", err)
		}
		if se := err.(*StatusError); se.Message != "order already sent to kitchen" {
			t.Errorf("Message = %q", se.Message)
		}
	})

	t.Run("wrongKeyUnauthorized", func(t *testing.T) {
		c := NewClient(srv.URL, "nope", time.Second)
		if _, err := c.GetOrder(ctx, order.ID); !IsStatus(err, http.StatusUnauthorized) {
			t.Errorf("GetOrder() error = %v, want 401", err)
		}
	})

	t.Run("serverUnreachable", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", testKey, 200*time.Millisecond)
		if _, err := c.GetOrder(ctx, order.ID); err == nil {
			t.Error("GetOrder() error = nil for unreachable server")
		}
	})
}

func TestSubscriberDeliversOrdersUpdated(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" || r.URL.Query().Get("type") != "pos" || r.Header.Get(APIKeyHeader) != testKey {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(models.Message{Type: models.TypeHeartbeat, Timestamp: time.Now()})
		conn.WriteJSON(models.Message{
			Type:      models.TypeOrdersUpdated,
			Timestamp: time.Now(),
			Data:      json.RawMessage(`{"order_id":"abc","table_id":4}`),
		})
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	updates := make(chan models.OrdersUpdatedData, 16)
	sub, err := NewSubscriber(srv.URL, testKey, nopLogger{}, func(u models.OrdersUpdatedData) {
		select {
		case updates <- u:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewSubscriber() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	select {
	case u := <-updates:
		if u != (models.OrdersUpdatedData{}) {
			t.Errorf("first update = %+v, want the empty resync after dialing", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no resync after dialing")
	}
	select {
	case u := <-updates:
		if u.OrderID != "abc" || u.TableID != 4 {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no orders_updated delivered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}

func TestSubscriberResyncsAfterReconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// drop every connection right away
		conn.Close()
	}))
	defer srv.Close()

	resyncs := make(chan struct{}, 16)
	sub, err := NewSubscriber(srv.URL, testKey, nopLogger{}, func(u models.OrdersUpdatedData) {
		if u.OrderID == "" {
			select {
			case resyncs <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		t.Fatalf("NewSubscriber() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-resyncs:
		case <-time.After(5 * time.Second):
			t.Fatalf("resync %d not delivered", i+1)
		}
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://10.0.0.5:8080", "ws://10.0.0.5:8080/ws?type=pos"},
		{"https://pos.example.com/", "wss://pos.example.com/ws?type=pos"},
	}
	for _, tt := range tests {
		got, err := websocketURL(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("websocketURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestEntryURL(t *testing.T) {
	entry := &zeroconf.ServiceEntry{Port: 8080, AddrIPv4: []net.IP{net.ParseIP("192.168.1.20")}}
	if got := entryURL(entry); got != "http://192.168.1.20:8080" {
		t.Errorf("entryURL() = %q", got)
	}
	if got := entryURL(&zeroconf.ServiceEntry{Port: 8080}); got != "" {
		t.Errorf("entryURL() without addresses = %q, want empty", got)
	}
}

type nopLogger struct{}

func (nopLogger) LogInfo(string, ...string)         {}
func (nopLogger) LogWarning(string, ...string)      {}
func (nopLogger) LogError(string, error, ...string) {}
