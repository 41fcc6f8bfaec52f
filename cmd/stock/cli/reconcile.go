package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Dev-aquilas225/stock-sub001/internal/procurement"
)

// ExitNotReconciled signals that at least one line still has an outstanding quantity.
const ExitNotReconciled = 10

// ReconciliationSource builds reconciliation reports.
type ReconciliationSource interface {
	Reconciliation(ctx context.Context, orderID int64) (procurement.ReconciliationReport, error)
}

// ReconcileOptions configures the reconcile command.
type ReconcileOptions struct {
	OrderID    int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileCLI reports whether orders are ready to close.
type ReconcileCLI struct {
	source ReconciliationSource
}

// NewReconcileCLI constructs the helper.
func NewReconcileCLI(source ReconciliationSource) (*ReconcileCLI, error) {
	if source == nil {
		return nil, errors.New("reconcile cli: source required")
	}
	return &ReconcileCLI{source: source}, nil
}

// ReconcileCommand prints the report and returns the process exit code.
func (c *ReconcileCLI) ReconcileCommand(ctx context.Context, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.OrderID <= 0 {
		fmt.Fprintln(opts.Stderr, "reconcile: --order is required")
		return 1
	}
	report, err := c.source.Reconciliation(ctx, opts.OrderID)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(report); err != nil {
			fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
			return 1
		}
	} else {
		renderReconcileHuman(opts.Stdout, report)
	}
	if !report.FullyReconciled {
		return ExitNotReconciled
	}
	return 0
}

func renderReconcileHuman(out io.Writer, report procurement.ReconciliationReport) {
	fmt.Fprintf(out, "Order %s (#%d) status %s\n", report.Reference, report.OrderID, report.Status)
	for _, line := range report.Lines {
		mark := "ok"
		if !line.FullyReconciled {
			mark = "open"
		}
		fmt.Fprintf(out, " - line %d %s ordered %s received %s damaged %s returned %s outstanding %s [%s]\n",
			line.LineID, line.ProductRef, line.Ordered, line.Received, line.Damaged, line.Returned, line.Outstanding, mark)
	}
	if report.FullyReconciled {
		fmt.Fprintln(out, "Fully reconciled.")
		return
	}
	fmt.Fprintln(out, "Not reconciled: outstanding quantities remain.")
}
