package services

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"RestoPOS/app/models"
)

const receiptWidth = 42

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// ReceiptService renders customer receipts as text and as a QR code PNG
type ReceiptService struct {
	businessName string
	qrSize       int
}

// NewReceiptService creates a receipt renderer
func NewReceiptService(businessName string) *ReceiptService {
	if businessName == "" {
		businessName = "RestoPOS"
	}
	return &ReceiptService{businessName: businessName, qrSize: 256}
}

// Text formats a receipt for a console or a thermal printer
func (s *ReceiptService) Text(order *models.Order, paymentMethod string, paidAt time.Time) string {
	var b strings.Builder
	b.WriteString(center(s.businessName) + "\n")
	b.WriteString(separator() + "\n")
	fmt.Fprintf(&b, "Order: %s\n", shortID(order.ID))
	fmt.Fprintf(&b, "Table: %d\n", order.TableID)
	fmt.Fprintf(&b, "Date:  %s\n", paidAt.Format("2006-01-02 15:04"))
	b.WriteString(separator() + "\n")

	for _, item := range order.Items {
		left := fmt.Sprintf("%dx %s", item.Quantity, item.ProductName)
		right := formatMoney(item.Subtotal())
		b.WriteString(columns(left, right) + "\n")
		if item.Comment != "" {
			b.WriteString(wrapText("* "+item.Comment, "  ", receiptWidth))
		}
		if len(item.ExcludedIngredients) > 0 {
			b.WriteString(wrapText("- no "+strings.Join(item.ExcludedIngredients, ", "), "  ", receiptWidth))
		}
	}

	b.WriteString(separator() + "\n")
	b.WriteString(columns("TOTAL", formatMoney(models.CalculateTotal(order.Items))) + "\n")
	if paymentMethod != "" {
		b.WriteString(columns("Paid by", paymentMethod) + "\n")
	}
	b.WriteString(separator() + "\n")
	b.WriteString(center("Thank you!") + "\n")
	return b.String()
}

// RenderPNG encodes the receipt summary as a QR code image
func (s *ReceiptService) RenderPNG(order *models.Order, paymentMethod string, paidAt time.Time) ([]byte, error) {
	payload := fmt.Sprintf("ORDER:%s|TABLE:%d|ITEMS:%d|TOTAL:%s|PAID:%s|AT:%s",
		order.ID, order.TableID, len(order.Items),
		models.CalculateTotal(order.Items).StringFixed(2),
		paymentMethod, paidAt.UTC().Format(time.RFC3339))

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}
	qr.DisableBorder = false

	png, err := qr.PNG(s.qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt image: %w", err)
	}
	return png, nil
}

// ReceiptStore keeps uploaded receipt images on disk
type ReceiptStore struct {
	dir      string
	maxBytes int
}

// NewReceiptStore creates the receipts directory if needed
func NewReceiptStore(dir string) (*ReceiptStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create receipts directory: %w", err)
	}
	return &ReceiptStore{dir: dir, maxBytes: 2 << 20}, nil
}

// Dir returns the directory receipts are written to
func (s *ReceiptStore) Dir() string {
	return s.dir
}

// MaxBytes is the largest receipt accepted
func (s *ReceiptStore) MaxBytes() int {
	return s.maxBytes
}

// Save writes a PNG receipt for the order and returns the URL path it is served under
func (s *ReceiptStore) Save(orderID string, png []byte) (string, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return "", fmt.Errorf("%w: invalid order ID", ErrInvalidRequest)
	}
	if len(png) > s.maxBytes {
		return "", fmt.Errorf("%w: receipt exceeds %d bytes", ErrInvalidRequest, s.maxBytes)
	}
	if !bytes.HasPrefix(png, pngSignature) {
		return "", fmt.Errorf("%w: receipt is not a PNG image", ErrInvalidRequest)
	}

	name := orderID + ".png"
	if err := os.WriteFile(filepath.Join(s.dir, name), png, 0644); err != nil {
		return "", fmt.Errorf("failed to store receipt: %w", err)
	}
	return "/receipts/" + name, nil
}

// Load returns a stored receipt
func (s *ReceiptStore) Load(orderID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(orderID)+".png"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrOrderNotFound
	}
	return data, err
}

func separator() string {
	return strings.Repeat("-", receiptWidth)
}

func center(text string) string {
	if len(text) >= receiptWidth {
		return text
	}
	return strings.Repeat(" ", (receiptWidth-len(text))/2) + text
}

func columns(left, right string) string {
	space := receiptWidth - len(left) - len(right)
	if space < 1 {
		space = 1
	}
	return left + strings.Repeat(" ", space) + right
}

func formatMoney(amount decimal.Decimal) string {
	return "$" + amount.StringFixed(2)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func wrapText(text, indent string, width int) string {
	var b strings.Builder
	line := indent
	for _, word := range strings.Fields(text) {
		if len(line) > len(indent) && len(line)+1+len(word) > width {
			b.WriteString(line + "\n")
			line = indent + "  "
		}
		if len(line) > len(indent) && !strings.HasSuffix(line, " ") {
			line += " "
		}
		line += word
	}
	if strings.TrimSpace(line) != "" {
		b.WriteString(line + "\n")
	}
	return b.String()
}
