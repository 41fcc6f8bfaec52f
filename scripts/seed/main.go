package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Dev-aquilas225/stock-sub001/internal/app"
	"github.com/Dev-aquilas225/stock-sub001/internal/procurement"
)

type fixtureFile struct {
	Rates  map[string]string `yaml:"rates"`
	Orders []orderFixture    `yaml:"orders"`
}

type orderFixture struct {
	Reference          string             `yaml:"reference"`
	SupplierRef        string             `yaml:"supplier_ref"`
	SettlementCurrency string             `yaml:"settlement_currency"`
	EstimatedDelivery  string             `yaml:"estimated_delivery"`
	Note               string             `yaml:"note"`
	TargetStatus       string             `yaml:"target_status"`
	Lines              []lineFixture      `yaml:"lines"`
	Receptions         []receptionFixture `yaml:"receptions"`
}

type lineFixture struct {
	ProductRef      string `yaml:"product_ref"`
	UnitPrice       string `yaml:"unit_price"`
	NegotiatedPrice string `yaml:"negotiated_price"`
	Quantity        string `yaml:"quantity"`
	Currency        string `yaml:"currency"`
	Packaging       string `yaml:"packaging"`
	LotID           string `yaml:"lot_id"`
}

type receptionFixture struct {
	ProductRef  string `yaml:"product_ref"`
	QtyReceived string `yaml:"qty_received"`
	QtyDamaged  string `yaml:"qty_damaged"`
	Comment     string `yaml:"comment"`
}

// workflow is the subset of the engine the seeder drives.
type workflow interface {
	CreateOrder(ctx context.Context, input procurement.CreateOrderInput) (procurement.Order, error)
	Transition(ctx context.Context, input procurement.TransitionInput) (procurement.Order, error)
	Receive(ctx context.Context, input procurement.ReceiveInput) (procurement.Order, error)
}

// seedPath is walked before any reception is recorded.
var seedPath = []procurement.OrderStatus{
	procurement.OrderStatusValidated,
	procurement.OrderStatusSent,
}

func main() {
	path := flag.String("file", "scripts/seed/fixtures/orders.yaml", "fixture file")
	actor := flag.Int64("actor", 1, "actor id recorded in the audit log")
	flag.Parse()

	ctx := context.Background()
	cfg, err := app.LoadConfig(".env")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	rt, err := app.NewRuntime(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		log.Fatalf("init runtime: %v", err)
	}
	defer rt.Close()

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("read fixtures: %v", err)
	}
	fixtures, err := parseFixtures(data)
	if err != nil {
		log.Fatalf("parse fixtures: %v", err)
	}

	fmt.Println("→ Seeding purchase orders...")
	orders, err := seedOrders(ctx, rt.Procurement, fixtures, *actor)
	if err != nil {
		log.Fatalf("seed orders: %v", err)
	}
	for _, order := range orders {
		fmt.Printf("  %s #%d %s\n", order.Reference, order.ID, order.Status)
	}
	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func parseFixtures(data []byte) (fixtureFile, error) {
	var out fixtureFile
	if err := yaml.Unmarshal(data, &out); err != nil {
		return fixtureFile{}, err
	}
	if len(out.Orders) == 0 {
		return fixtureFile{}, fmt.Errorf("no orders in fixture file")
	}
	return out, nil
}

func seedOrders(ctx context.Context, svc workflow, fixtures fixtureFile, actorID int64) ([]procurement.Order, error) {
	rates, err := parseRates(fixtures.Rates)
	if err != nil {
		return nil, err
	}
	out := make([]procurement.Order, 0, len(fixtures.Orders))
	for _, fx := range fixtures.Orders {
		order, err := seedOrder(ctx, svc, fx, rates, actorID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fx.Reference, err)
		}
		out = append(out, order)
	}
	return out, nil
}

func seedOrder(ctx context.Context, svc workflow, fx orderFixture, rates procurement.RateTable, actorID int64) (procurement.Order, error) {
	input := procurement.CreateOrderInput{
		Reference:          fx.Reference,
		SupplierRef:        fx.SupplierRef,
		SettlementCurrency: fx.SettlementCurrency,
		Note:               fx.Note,
		Rates:              rates,
		ActorID:            actorID,
	}
	if fx.EstimatedDelivery != "" {
		eta, err := time.Parse("2006-01-02", fx.EstimatedDelivery)
		if err != nil {
			return procurement.Order{}, fmt.Errorf("estimated_delivery: %w", err)
		}
		input.EstimatedDelivery = eta
	}
	for _, line := range fx.Lines {
		parsed, err := parseLine(line)
		if err != nil {
			return procurement.Order{}, err
		}
		input.Lines = append(input.Lines, parsed)
	}
	order, err := svc.CreateOrder(ctx, input)
	if err != nil {
		return procurement.Order{}, err
	}

	target := procurement.OrderStatusDraft
	if fx.TargetStatus != "" {
		target, err = procurement.ParseOrderStatus(fx.TargetStatus)
		if err != nil {
			return procurement.Order{}, err
		}
	}
	if target == procurement.OrderStatusDraft {
		return order, nil
	}
	for _, step := range seedPath {
		order, err = svc.Transition(ctx, procurement.TransitionInput{OrderID: order.ID, Target: step, ActorID: actorID})
		if err != nil {
			return procurement.Order{}, err
		}
		if step == target {
			return order, nil
		}
	}
	if len(fx.Receptions) > 0 {
		batch, err := receptionBatch(order, fx.Receptions)
		if err != nil {
			return procurement.Order{}, err
		}
		order, err = svc.Receive(ctx, procurement.ReceiveInput{
			OrderID:        order.ID,
			Lines:          batch,
			Rates:          rates,
			IdempotencyKey: "seed-" + fx.Reference,
			ActorID:        actorID,
		})
		if err != nil {
			return procurement.Order{}, err
		}
	}
	if order.Status != target {
		order, err = svc.Transition(ctx, procurement.TransitionInput{OrderID: order.ID, Target: target, ActorID: actorID})
		if err != nil {
			return procurement.Order{}, err
		}
	}
	return order, nil
}

func parseLine(line lineFixture) (procurement.OrderLineInput, error) {
	out := procurement.OrderLineInput{
		ProductRef: line.ProductRef,
		Currency:   line.Currency,
		Packaging:  line.Packaging,
		LotID:      line.LotID,
	}
	var err error
	if out.UnitPrice, err = parseDecimal("unit_price", line.UnitPrice); err != nil {
		return out, err
	}
	if line.NegotiatedPrice != "" {
		if out.NegotiatedPrice, err = parseDecimal("negotiated_price", line.NegotiatedPrice); err != nil {
			return out, err
		}
	}
	if out.Quantity, err = parseDecimal("quantity", line.Quantity); err != nil {
		return out, err
	}
	return out, nil
}

func receptionBatch(order procurement.Order, fixtures []receptionFixture) ([]procurement.LineReception, error) {
	byProduct := make(map[string]int64, len(order.Lines))
	for _, line := range order.Lines {
		byProduct[line.ProductRef] = line.ID
	}
	batch := make([]procurement.LineReception, 0, len(fixtures))
	for _, fx := range fixtures {
		lineID, ok := byProduct[fx.ProductRef]
		if !ok {
			return nil, fmt.Errorf("reception for unknown product %s", fx.ProductRef)
		}
		received, err := parseDecimal("qty_received", fx.QtyReceived)
		if err != nil {
			return nil, err
		}
		damaged := decimal.Zero
		if fx.QtyDamaged != "" {
			if damaged, err = parseDecimal("qty_damaged", fx.QtyDamaged); err != nil {
				return nil, err
			}
		}
		batch = append(batch, procurement.LineReception{LineID: lineID, QtyReceived: received, QtyDamaged: damaged, Comment: fx.Comment})
	}
	return batch, nil
}

func parseRates(raw map[string]string) (procurement.RateTable, error) {
	rates := make(procurement.RateTable, len(raw))
	for pair, value := range raw {
		rate, err := parseDecimal("rates."+pair, value)
		if err != nil {
			return nil, err
		}
		rates[pair] = rate
	}
	return rates, nil
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", field, value)
	}
	return d, nil
}
