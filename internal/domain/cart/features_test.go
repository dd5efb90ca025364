package cart_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/cucumber/godog"
	"github.com/example/medsupply-storefront/internal/domain/cart"
	"github.com/example/medsupply-storefront/internal/infrastructure/store"
)

type cartTestContext struct {
	store *cart.Store
	err   error
}

func (c *cartTestContext) reset() {
	c.store = cart.NewStore("origin", store.NewMemoryBackend(), cart.WithClock(steppingClock()))
	c.err = nil
}

func (c *cartTestContext) anEmptyCart() error {
	return nil
}

func (c *cartTestContext) iAddToTheCart(table *godog.Table) error {
	if len(table.Rows) < 2 {
		return fmt.Errorf("expected a header and at least one row")
	}

	header := table.Rows[0].Cells
	for _, row := range table.Rows[1:] {
		fields := make(map[string]string, len(header))
		for i, cell := range row.Cells {
			fields[header[i].Value] = cell.Value
		}
		quantity, err := strconv.Atoi(fields["quantity"])
		if err != nil {
			return err
		}

		_, c.err = c.store.Add(context.Background(), cart.LineItemInput{
			ProductID:    fields["productId"],
			SubProductID: fields["subProductId"],
			Name:         fields["name"],
			Size:         fields["size"],
			Shape:        fields["shape"],
			Quantity:     quantity,
		})
		if c.err != nil {
			return nil
		}
	}
	return nil
}

func (c *cartTestContext) lineItem(n int) (cart.LineItem, error) {
	items, err := c.store.List(context.Background())
	if err != nil {
		return cart.LineItem{}, err
	}
	if n < 1 || n > len(items) {
		return cart.LineItem{}, fmt.Errorf("line item %d does not exist, cart has %d", n, len(items))
	}
	return items[n-1], nil
}

func (c *cartTestContext) iSetTheQuantityOfLineItemTo(n, quantity int) error {
	item, err := c.lineItem(n)
	if err != nil {
		return err
	}
	c.err = c.store.SetQuantity(context.Background(), item.ID, quantity)
	return nil
}

func (c *cartTestContext) iSetTheQuantityOfAnUnknownLineItemTo(quantity int) error {
	c.err = c.store.SetQuantity(context.Background(), "unknown", quantity)
	return nil
}

func (c *cartTestContext) iRemoveAnUnknownLineItem() error {
	c.err = c.store.Remove(context.Background(), "unknown")
	return nil
}

func (c *cartTestContext) iClearTheCart() error {
	if err := c.store.Clear(context.Background()); err != nil {
		c.err = err
	}
	return nil
}

func (c *cartTestContext) theCartHasLineItems(want int) error {
	items, err := c.store.List(context.Background())
	if err != nil {
		return err
	}
	if len(items) != want {
		return fmt.Errorf("expected %d line items, got %d", want, len(items))
	}
	return nil
}

func (c *cartTestContext) lineItemHasQuantity(n, want int) error {
	item, err := c.lineItem(n)
	if err != nil {
		return err
	}
	if item.Quantity != want {
		return fmt.Errorf("expected quantity %d, got %d", want, item.Quantity)
	}
	return nil
}

func (c *cartTestContext) theCartCountIs(want int) error {
	count, err := c.store.Count(context.Background())
	if err != nil {
		return err
	}
	if count != want {
		return fmt.Errorf("expected count %d, got %d", want, count)
	}
	return nil
}

func (c *cartTestContext) theOperationSucceeds() error {
	if c.err != nil {
		return fmt.Errorf("expected success, got %v", c.err)
	}
	return nil
}

func (c *cartTestContext) theOperationFailsWith(kind string) error {
	want := map[string]error{
		"not found":         cart.ErrNotFound,
		"invalid quantity":  cart.ErrInvalidQuantity,
		"invalid selection": cart.ErrInvalidSelection,
	}[kind]
	if want == nil {
		return fmt.Errorf("unknown failure %q", kind)
	}
	if !errors.Is(c.err, want) {
		return fmt.Errorf("expected %v, got %v", want, c.err)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &cartTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^an empty cart$`, tc.anEmptyCart)

	// When steps
	ctx.Step(`^I add to the cart:$`, tc.iAddToTheCart)
	ctx.Step(`^I set the quantity of line item (\d+) to (-?\d+)$`, tc.iSetTheQuantityOfLineItemTo)
	ctx.Step(`^I set the quantity of an unknown line item to (-?\d+)$`, tc.iSetTheQuantityOfAnUnknownLineItemTo)
	ctx.Step(`^I remove an unknown line item$`, tc.iRemoveAnUnknownLineItem)
	ctx.Step(`^I clear the cart$`, tc.iClearTheCart)

	// Then steps
	ctx.Step(`^the cart has (\d+) line items?$`, tc.theCartHasLineItems)
	ctx.Step(`^line item (\d+) has quantity (\d+)$`, tc.lineItemHasQuantity)
	ctx.Step(`^the cart count is (\d+)$`, tc.theCartCountIs)
	ctx.Step(`^the operation succeeds$`, tc.theOperationSucceeds)
	ctx.Step(`^the operation fails with "([^"]*)"$`, tc.theOperationFailsWith)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
