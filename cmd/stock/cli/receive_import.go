package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Dev-aquilas225/stock-sub001/internal/procurement"
)

// ImportMode enumerates supported execution strategies.
type ImportMode string

const (
	// ImportModeDry previews the batch against the stored order.
	ImportModeDry ImportMode = "dry"
	// ImportModeApply commits the batch after confirmation.
	ImportModeApply ImportMode = "apply"
)

// ReceptionTarget previews and commits reception batches.
type ReceptionTarget interface {
	PreviewReception(ctx context.Context, input procurement.ReceiveInput) (procurement.Order, error)
	Receive(ctx context.Context, input procurement.ReceiveInput) (procurement.Order, error)
}

// ReceiveImportOptions configures the receive-import command.
type ReceiveImportOptions struct {
	OrderID        int64
	Mode           ImportMode
	Source         string
	SourceReader   io.Reader
	IdempotencyKey string
	ActorID        int64
	JSONOutput     bool
	Stdout         io.Writer
	Stderr         io.Writer
	Stdin          io.Reader
	Confirm        func(io.Reader, io.Writer) (bool, error)
}

// ReceiveImportSummary captures the structured reporting outcome.
type ReceiveImportSummary struct {
	OrderID int64                   `json:"order_id"`
	Mode    ImportMode              `json:"mode"`
	Lines   []ImportedLine          `json:"lines"`
	Status  procurement.OrderStatus `json:"status"`
	Applied bool                    `json:"applied"`
}

// ImportedLine is one parsed CSV row together with the resulting line totals.
type ImportedLine struct {
	LineID        int64           `json:"line_id"`
	QtyReceived   decimal.Decimal `json:"qty_received"`
	QtyDamaged    decimal.Decimal `json:"qty_damaged"`
	TotalReceived decimal.Decimal `json:"total_received"`
	Outstanding   decimal.Decimal `json:"outstanding"`
}

// ReceiveImportCLI loads reception batches from CSV files.
type ReceiveImportCLI struct {
	target ReceptionTarget
}

// NewReceiveImportCLI constructs the helper.
func NewReceiveImportCLI(target ReceptionTarget) (*ReceiveImportCLI, error) {
	if target == nil {
		return nil, errors.New("receive import: target required")
	}
	return &ReceiveImportCLI{target: target}, nil
}

// ImportCommand executes the import workflow and returns the process exit code.
func (c *ReceiveImportCLI) ImportCommand(ctx context.Context, opts ReceiveImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = ImportModeDry
	}
	mode := ImportMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case ImportModeDry, ImportModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "receive import: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}
	if opts.OrderID <= 0 {
		fmt.Fprintln(opts.Stderr, "receive import: --order is required")
		return 1
	}
	entries, err := loadReceptionRows(opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "receive import: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(opts.Stderr, "receive import: source contains no rows")
		return 1
	}
	input := procurement.ReceiveInput{
		OrderID:        opts.OrderID,
		Lines:          entries,
		IdempotencyKey: opts.IdempotencyKey,
		ActorID:        opts.ActorID,
	}
	preview, err := c.target.PreviewReception(ctx, input)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "receive import: %v\n", describeError(err))
		return 1
	}
	summary := buildImportSummary(mode, preview, entries)
	if mode == ImportModeDry {
		if err := writeImportOutput(opts, summary); err != nil {
			fmt.Fprintf(opts.Stderr, "receive import: %v\n", err)
			return 1
		}
		return 0
	}
	confirm := opts.Confirm
	if confirm == nil {
		confirm = defaultConfirm
	}
	ok, err := confirm(opts.Stdin, opts.Stdout)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "receive import: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "receive import: cancelled by user")
		return 1
	}
	order, err := c.target.Receive(ctx, input)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "receive import: apply failed: %v\n", describeError(err))
		return 1
	}
	summary = buildImportSummary(mode, order, entries)
	summary.Applied = true
	if err := writeImportOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "receive import: %v\n", err)
		return 1
	}
	return 0
}

func loadReceptionRows(opts ReceiveImportOptions) ([]procurement.LineReception, error) {
	var data []byte
	var err error
	switch {
	case opts.SourceReader != nil:
		data, err = io.ReadAll(opts.SourceReader)
	case opts.Source == "-":
		data, err = io.ReadAll(opts.Stdin)
	case strings.TrimSpace(opts.Source) == "":
		return nil, errors.New("--file is required")
	default:
		data, err = os.ReadFile(opts.Source)
	}
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(bytes.NewReader(bytes.TrimSpace(data)))
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	indexes := map[string]int{"line_id": -1, "qty_received": -1, "qty_damaged": -1, "comment": -1}
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		if _, ok := indexes[name]; ok {
			indexes[name] = i
		}
	}
	if indexes["line_id"] < 0 || indexes["qty_received"] < 0 {
		return nil, errors.New("missing required columns in source (need line_id, qty_received)")
	}
	var rows []procurement.LineReception
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		field := func(name string) string {
			idx := indexes[name]
			if idx < 0 || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}
		lineID, err := strconv.ParseInt(field("line_id"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid line_id %q", row, field("line_id"))
		}
		received, err := decimal.NewFromString(field("qty_received"))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid qty_received %q", row, field("qty_received"))
		}
		damaged := decimal.Zero
		if v := field("qty_damaged"); v != "" {
			damaged, err = decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid qty_damaged %q", row, v)
			}
		}
		rows = append(rows, procurement.LineReception{
			LineID:      lineID,
			QtyReceived: received,
			QtyDamaged:  damaged,
			Comment:     field("comment"),
		})
	}
	return rows, nil
}

func buildImportSummary(mode ImportMode, order procurement.Order, entries []procurement.LineReception) ReceiveImportSummary {
	summary := ReceiveImportSummary{OrderID: order.ID, Mode: mode, Status: order.Status}
	for _, entry := range entries {
		line := ImportedLine{LineID: entry.LineID, QtyReceived: entry.QtyReceived, QtyDamaged: entry.QtyDamaged}
		for _, ol := range order.Lines {
			if ol.ID == entry.LineID {
				line.TotalReceived = ol.QtyReceived
				line.Outstanding = decimal.Max(ol.QtyOrdered.Sub(ol.QtyReceived).Sub(ol.QtyDamaged), decimal.Zero)
			}
		}
		summary.Lines = append(summary.Lines, line)
	}
	return summary
}

func writeImportOutput(opts ReceiveImportOptions, summary ReceiveImportSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	verb := "would move"
	if summary.Applied {
		verb = "moved"
	}
	fmt.Fprintf(opts.Stdout, "Reception import (%s) for order #%d %s to %s\n", summary.Mode, summary.OrderID, verb, summary.Status)
	for _, line := range summary.Lines {
		fmt.Fprintf(opts.Stdout, " - line %d +%s received, %s damaged, total %s, outstanding %s\n",
			line.LineID, line.QtyReceived, line.QtyDamaged, line.TotalReceived, line.Outstanding)
	}
	return nil
}

func describeError(err error) string {
	if be, ok := procurement.AsBusinessError(err); ok {
		return fmt.Sprintf("%s: %v", be.Kind(), err)
	}
	return err.Error()
}

func defaultConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Apply reception batch? Type YES to confirm: ")
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}
