package till

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"RestoPOS/app/models"
	"RestoPOS/app/ordersync"
	"RestoPOS/app/services"
)

// Catalog lists the products a till can sell
type Catalog interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
}

// Till is the line-oriented order-taking terminal for one table. It turns
// typed commands into Controller events and prints the resulting order.
type Till struct {
	ctrl     *ordersync.Controller
	catalog  Catalog
	receipts *services.ReceiptService
	logger   ordersync.Logger

	lines *bufio.Scanner
	outMu sync.Mutex
	out   io.Writer

	products []models.Product
}

var (
	_ ordersync.Alerter   = (*Till)(nil)
	_ ordersync.Confirmer = (*Till)(nil)
)

// New creates a till reading commands from in and printing to out
func New(catalog Catalog, receipts *services.ReceiptService, logger ordersync.Logger, in io.Reader, out io.Writer) *Till {
	return &Till{
		catalog:  catalog,
		receipts: receipts,
		logger:   logger,
		lines:    bufio.NewScanner(in),
		out:      out,
	}
}

// Attach sets the controller the till drives. The controller is created
// with the till as its Alerter, so it is attached after New.
func (t *Till) Attach(ctrl *ordersync.Controller) {
	t.ctrl = ctrl
}

// Alert prints a message the person at the till has to notice
func (t *Till) Alert(message string) {
	t.printf("!! %s\n", message)
}

// Confirm asks a yes/no question; anything but y or yes means no
func (t *Till) Confirm(question string) bool {
	t.printf("%s [y/N] ", question)
	line, ok := t.readLine()
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func (t *Till) printf(format string, args ...interface{}) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *Till) readLine() (string, bool) {
	if !t.lines.Scan() {
		return "", false
	}
	return t.lines.Text(), true
}

// Run opens the table's order and processes commands until the session ends
// with pay or exit, the input is exhausted or ctx is cancelled.
func (t *Till) Run(ctx context.Context, tableID uint) error {
	if t.ctrl == nil {
		return errors.New("till has no controller attached")
	}
	if err := t.ctrl.Open(ctx, tableID); err != nil {
		return err
	}
	products, err := t.catalog.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load menu: %w", err)
	}
	t.products = products

	t.printf("Table %d. Type help for commands.\n", tableID)
	t.showOrder()

	for {
		if ctx.Err() != nil {
			return t.leave(context.Background())
		}
		t.printf("> ")
		line, ok := t.readLine()
		if !ok {
			return t.leave(ctx)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		done, err := t.execute(ctx, strings.ToLower(fields[0]), fields[1:], line)
		if err != nil {
			t.printf("error: %v\n", err)
		}
		if done {
			return nil
		}
	}
}

// leave saves outstanding edits when the input ends without exit
func (t *Till) leave(ctx context.Context) error {
	if !t.ctrl.HasUnsentChanges() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := t.ctrl.SyncNow(ctx); err != nil {
		return fmt.Errorf("unsent changes could not be saved: %w", err)
	}
	return nil
}

// execute runs one command. It reports whether the session is over.
func (t *Till) execute(ctx context.Context, command string, args []string, line string) (bool, error) {
	switch command {
	case "help", "?":
		t.printHelp()

	case "menu":
		t.printMenu()

	case "show":
		t.showOrder()

	case "add":
		if len(args) == 0 {
			return false, errors.New("usage: add <menu#> [qty] [-ingredient ...] [# comment]")
		}
		product, err := t.product(args[0])
		if err != nil {
			return false, err
		}
		customization, err := parseCustomization(args[1:], line)
		if err != nil {
			return false, err
		}
		if err := t.ctrl.AddProduct(product, customization); err != nil {
			return false, err
		}
		t.showOrder()

	case "qty":
		if len(args) != 2 {
			return false, errors.New("usage: qty <item#> <+n|-n>")
		}
		id, err := t.itemID(args[0])
		if err != nil {
			return false, err
		}
		delta, err := strconv.Atoi(args[1])
		if err != nil {
			return false, fmt.Errorf("invalid quantity change %q", args[1])
		}
		if err := t.ctrl.ChangeQuantity(id, delta); err != nil {
			return false, err
		}
		t.showOrder()

	case "set":
		if len(args) != 2 {
			return false, errors.New("usage: set <item#> <qty>")
		}
		id, err := t.itemID(args[0])
		if err != nil {
			return false, err
		}
		quantity, err := strconv.Atoi(args[1])
		if err != nil {
			return false, fmt.Errorf("invalid quantity %q", args[1])
		}
		if err := t.ctrl.SetQuantity(id, quantity); err != nil {
			return false, err
		}
		t.showOrder()

	case "note":
		if len(args) == 0 {
			return false, errors.New("usage: note <item#> [text]")
		}
		id, err := t.itemID(args[0])
		if err != nil {
			return false, err
		}
		if err := t.ctrl.EditComment(id, strings.Join(args[1:], " "), true); err != nil {
			return false, err
		}
		t.showOrder()

	case "rm":
		if len(args) != 1 {
			return false, errors.New("usage: rm <item#>")
		}
		id, err := t.itemID(args[0])
		if err != nil {
			return false, err
		}
		if err := t.ctrl.RemoveItem(id); err != nil {
			return false, err
		}
		t.showOrder()

	case "sync":
		if err := t.ctrl.SyncNow(ctx); err != nil {
			return false, err
		}
		t.showOrder()

	case "send":
		err := t.ctrl.SendToKitchen(ctx)
		if errors.Is(err, ordersync.ErrUnpersistedItems) {
			return false, errors.New("some items are not saved yet, nothing was sent; try again")
		}
		if err != nil {
			return false, err
		}
		t.printf("Sent to kitchen.\n")
		t.showOrder()

	case "served":
		if err := t.ctrl.MarkServed(ctx); err != nil {
			return false, err
		}
		t.showOrder()

	case "pay":
		if len(args) != 1 {
			return false, errors.New("usage: pay <cash|card|transfer>")
		}
		return t.pay(ctx, args[0])

	case "refresh":
		if err := t.ctrl.Refresh(ctx); err != nil {
			return false, err
		}
		t.showOrder()

	case "exit", "quit":
		ok, err := t.ctrl.Exit(ctx, t)
		if err != nil {
			return false, err
		}
		if !ok {
			t.printf("Staying on the order.\n")
		}
		return ok, nil

	default:
		return false, fmt.Errorf("unknown command %q, type help", command)
	}
	return false, nil
}

// pay renders the receipt, settles the order and prints the receipt text
func (t *Till) pay(ctx context.Context, method string) (bool, error) {
	if t.ctrl.HasUnsentChanges() {
		if err := t.ctrl.SyncNow(ctx); err != nil {
			return false, err
		}
	}
	order := t.ctrl.Order()
	if order == nil || len(order.Items) == 0 {
		return false, errors.New("nothing to pay")
	}

	paidAt := time.Now()
	png, err := t.receipts.RenderPNG(order, method, paidAt)
	if err != nil {
		t.logger.LogWarning("Receipt image could not be rendered", err.Error())
	}
	if err := t.ctrl.Finalize(ctx, method, png); err != nil {
		return false, err
	}
	t.printf("%s", t.receipts.Text(order, method, paidAt))
	return true, nil
}

func (t *Till) product(ref string) (models.Product, error) {
	n, err := strconv.Atoi(ref)
	if err != nil || n < 1 || n > len(t.products) {
		return models.Product{}, fmt.Errorf("no menu entry %q, type menu", ref)
	}
	return t.products[n-1], nil
}

// itemID maps an item number as printed by show to the item's ID
func (t *Till) itemID(ref string) (string, error) {
	order := t.ctrl.Order()
	n, err := strconv.Atoi(ref)
	if err != nil || order == nil || n < 1 || n > len(order.Items) {
		return "", fmt.Errorf("no item %q, type show", ref)
	}
	return order.Items[n-1].ID, nil
}

// parseCustomization reads "[qty] [-ingredient ...] [# comment]"
func parseCustomization(args []string, line string) (models.Customization, error) {
	customization := models.Customization{Quantity: 1}
	if i := strings.Index(line, "#"); i >= 0 {
		customization.Comment = strings.TrimSpace(line[i+1:])
	}
	for i, arg := range args {
		if strings.HasPrefix(arg, "#") {
			break
		}
		if strings.HasPrefix(arg, "-") && len(arg) > 1 {
			customization.ExcludedIngredients = append(customization.ExcludedIngredients, strings.ReplaceAll(arg[1:], "_", " "))
			continue
		}
		if i == 0 {
			q, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return customization, fmt.Errorf("invalid quantity %q", arg)
			}
			customization.Quantity = q
			continue
		}
		return customization, fmt.Errorf("unexpected %q; comments start with #", arg)
	}
	return customization, nil
}

func (t *Till) printMenu() {
	var b strings.Builder
	for i, p := range t.products {
		fmt.Fprintf(&b, "%3d) %-24s %8s", i+1, p.Name, p.Price.StringFixed(2))
		var optional []string
		for _, ing := range p.Ingredients {
			switch {
			case ing.Optional && ing.IncludedByDefault:
				optional = append(optional, ing.Name)
			case ing.Optional:
				optional = append(optional, "("+ing.Name+")")
			}
		}
		if len(optional) > 0 {
			fmt.Fprintf(&b, "  [%s]", strings.Join(optional, ", "))
		}
		b.WriteString("\n")
	}
	t.printf("%s", b.String())
}

func (t *Till) showOrder() {
	order := t.ctrl.Order()
	if order == nil {
		t.printf("No order open.\n")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Order %s  table %d  kitchen: %s\n", shortID(order.ID), order.TableID, order.KitchenStatus)
	if len(order.Items) == 0 {
		b.WriteString("  (empty)\n")
	}
	for i, item := range order.Items {
		marker := " "
		if ordersync.IsTempID(item.ID) {
			marker = "*"
		}
		fmt.Fprintf(&b, "%3d%s %2dx %-22s %8s  %s\n", i+1, marker, item.Quantity, item.ProductName,
			item.Subtotal().StringFixed(2), item.Status)
		if len(item.ExcludedIngredients) > 0 {
			fmt.Fprintf(&b, "        no %s\n", strings.Join(item.ExcludedIngredients, ", "))
		}
		if item.Comment != "" {
			fmt.Fprintf(&b, "        # %s\n", item.Comment)
		}
	}
	fmt.Fprintf(&b, "      TOTAL %s", models.CalculateTotal(order.Items).StringFixed(2))
	if t.ctrl.HasUnsentChanges() {
		b.WriteString("  (saving...)")
	}
	b.WriteString("\n")
	t.printf("%s", b.String())
}

func (t *Till) printHelp() {
	t.printf(`Commands:
  menu                          list products
  show                          show the order (* = not saved yet)
  add <menu#> [qty] [-ingr] [# comment]
                                add a product, e.g. add 1 2 -onion # well done
  qty <item#> <+n|-n>           change a quantity
  set <item#> <qty>             set a quantity (0 removes)
  note <item#> [text]           set or clear an item comment
  rm <item#>                    remove an unsent item
  sync                          save now
  send                          send unsent items to the kitchen
  served                        mark sent items as served
  pay <method>                  take payment and print the receipt
  refresh                       reload the order from the server
  exit                          leave the table
`)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
