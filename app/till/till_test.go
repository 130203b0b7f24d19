package till

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"RestoPOS/app/api"
	"RestoPOS/app/config"
	"RestoPOS/app/database"
	"RestoPOS/app/models"
	"RestoPOS/app/ordersync"
	"RestoPOS/app/security"
	"RestoPOS/app/services"
	"RestoPOS/app/websocket"
)

const testAPIKey = "till-test-key"

// syncBuffer is written by the till and by controller alerts
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testStack struct {
	client *api.Client
	orders *services.OrderService
}

// newTestStack runs a complete order server on an in-memory database
func newTestStack(t *testing.T) *testStack {
	t.Helper()
	logger := services.NewLoggerService("", io.Discard)

	db, err := database.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		SeedDemo: true,
	}, logger)
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	receipts, err := services.NewReceiptStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewReceiptStore() error = %v", err)
	}
	hash, err := security.HashAPIKey(testAPIKey)
	if err != nil {
		t.Fatalf("HashAPIKey() error = %v", err)
	}

	orders := services.NewOrderService(db, logger)
	srv := websocket.NewServer(websocket.ServerOptions{APIKeyHashes: []string{hash}}, orders, receipts, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
		database.Close(db)
	})

	return &testStack{
		client: api.NewClient(ts.URL, testAPIKey, 5*time.Second),
		orders: orders,
	}
}

// runTill feeds script to a till on table tableID and returns its output and controller
func runTill(t *testing.T, stack *testStack, tableID uint, syncDelay time.Duration, script string) (string, *ordersync.Controller, error) {
	t.Helper()
	logger := services.NewLoggerService("", io.Discard)
	out := &syncBuffer{}

	tl := New(stack.client, services.NewReceiptService("Test Bistro"), logger, strings.NewReader(script), out)
	ctrl := ordersync.NewController(stack.client, ordersync.Options{
		SyncDelay: syncDelay,
		Logger:    logger,
		Alerter:   tl,
	})
	t.Cleanup(ctrl.Close)
	tl.Attach(ctrl)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := tl.Run(ctx, tableID)
	return out.String(), ctrl, err
}

func TestTillOrderToPayment(t *testing.T) {
	stack := newTestStack(t)

	script := strings.Join([]string{
		"menu",
		"add 1 2 -croutons # no dressing",
		"add 1 2 -croutons # no dressing",
		"sync",
		"send",
		"served",
		"pay card",
	}, "\n") + "\n"

	out, ctrl, err := runTill(t, stack, 1, 20*time.Millisecond, script)
	if err != nil {
		t.Fatalf("Run() error = %v\n%s", err, out)
	}

	order := ctrl.Order()
	if order.Status != models.OrderStatusPaid {
		t.Errorf("local status = %s, want paid", order.Status)
	}
	server, err := stack.orders.GetOrder(order.ID)
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if server.Status != models.OrderStatusPaid || len(server.Items) != 1 {
		t.Fatalf("server order = %s with %d items", server.Status, len(server.Items))
	}
	item := server.Items[0]
	if item.Quantity != 4 || item.Comment != "no dressing" || item.Status != models.ItemServed {
		t.Errorf("item = %dx %q %s", item.Quantity, item.Comment, item.Status)
	}
	// anchovies are left out unless asked for
	if got := strings.Join(item.ExcludedIngredients, ","); got != "anchovies,croutons" {
		t.Errorf("excluded = %q", got)
	}

	payment, err := stack.orders.GetPayment(order.ID)
	if err != nil {
		t.Fatalf("GetPayment() error = %v", err)
	}
	if payment.Method != "card" || payment.ReceiptURL == "" || payment.Amount.StringFixed(2) != "36.00" {
		t.Errorf("payment = %+v", payment)
	}
	for _, want := range []string{"Caesar Salad", "TOTAL", "36.00", "Paid by"} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
}

func TestTillExit(t *testing.T) {
	tests := []struct {
		name          string
		script        string
		wantStatus    models.OrderStatus
		wantInOutput  string
		wantServerLen int
	}{
		{"confirmCancelsUnsentOrder", "add 2\nexit\ny\n", models.OrderStatusCancelled, "[y/N]", 0},
		{"declineKeepsEditing", "add 2\nexit\nn\nexit\nyes\n", models.OrderStatusCancelled, "Staying on the order.", 0},
		{"endOfInputSavesEdits", "add 2\nadd 3\n", models.OrderStatusOpen, "> ", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := newTestStack(t)
			// a long delay keeps edits unsent until exit
			out, ctrl, err := runTill(t, stack, 2, 10*time.Second, tt.script)
			if err != nil {
				t.Fatalf("Run() error = %v\n%s", err, out)
			}
			if !strings.Contains(out, tt.wantInOutput) {
				t.Errorf("output is missing %q:\n%s", tt.wantInOutput, out)
			}

			server, err := stack.orders.GetOrder(ctrl.Order().ID)
			if err != nil {
				t.Fatalf("GetOrder() error = %v", err)
			}
			if server.Status != tt.wantStatus || len(server.Items) != tt.wantServerLen {
				t.Errorf("server order = %s with %d items, want %s with %d", server.Status, len(server.Items), tt.wantStatus, tt.wantServerLen)
			}
		})
	}
}

func TestTillReportsBadInput(t *testing.T) {
	stack := newTestStack(t)
	out, _, err := runTill(t, stack, 3, 20*time.Millisecond, "frobnicate\nrm 9\nadd 99\nadd 1 x\nqty 1\nexit\n")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, want := range []string{
		`unknown command "frobnicate"`,
		`no item "9"`,
		`no menu entry "99"`,
		`invalid quantity "x"`,
		"usage: qty",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
}

func TestTillAlert(t *testing.T) {
	out := &syncBuffer{}
	tl := New(nil, nil, nil, strings.NewReader(""), out)
	tl.Alert("server unreachable")
	if got := out.String(); got != "!! server unreachable\n" {
		t.Errorf("Alert() wrote %q", got)
	}
	if tl.Confirm("Leave?") {
		t.Error("Confirm() on exhausted input = true")
	}
}

func TestParseCustomization(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantQty  float64
		wantExcl []string
		wantNote string
		wantErr  bool
	}{
		{"defaults", "add 1", 1, nil, "", false},
		{"quantity", "add 1 3", 3, nil, "", false},
		{"exclusions", "add 1 -onion -red_pepper", 1, []string{"onion", "red pepper"}, "", false},
		{"everything", "add 1 2 -tomato # extra crispy", 2, []string{"tomato"}, "extra crispy", false},
		{"commentOnly", "add 1 #rare", 1, nil, "rare", false},
		{"badQuantity", "add 1 many", 0, nil, "", true},
		{"strayWord", "add 1 2 spicy", 0, nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := strings.Fields(tt.line)
			got, err := parseCustomization(fields[2:], tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCustomization() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Quantity != tt.wantQty || got.Comment != tt.wantNote {
				t.Errorf("got qty=%v comment=%q", got.Quantity, got.Comment)
			}
			if strings.Join(got.ExcludedIngredients, ",") != strings.Join(tt.wantExcl, ",") {
				t.Errorf("excluded = %v, want %v", got.ExcludedIngredients, tt.wantExcl)
			}
		})
	}
}
