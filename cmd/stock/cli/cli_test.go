package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Dev-aquilas225/stock-sub001/internal/procurement"
	"github.com/Dev-aquilas225/stock-sub001/jobs"
)

func newService(t *testing.T) (*procurement.Service, procurement.Order) {
	t.Helper()
	ctx := context.Background()
	svc := procurement.NewService(procurement.NewMemoryStore(), procurement.ServiceConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	order, err := svc.CreateOrder(ctx, procurement.CreateOrderInput{
		SupplierRef:        "SUP-1",
		SettlementCurrency: "EUR",
		Lines: []procurement.OrderLineInput{
			{ProductRef: "SKU-1", UnitPrice: decimal.NewFromInt(5), Quantity: decimal.NewFromInt(10), Currency: "EUR"},
			{ProductRef: "SKU-2", UnitPrice: decimal.NewFromInt(2), Quantity: decimal.NewFromInt(4), Currency: "EUR"},
		},
	})
	require.NoError(t, err)
	for _, target := range []procurement.OrderStatus{procurement.OrderStatusValidated, procurement.OrderStatusSent} {
		order, err = svc.Transition(ctx, procurement.TransitionInput{OrderID: order.ID, Target: target})
		require.NoError(t, err)
	}
	return svc, order
}

func TestReconcileCommandJSONNotReconciled(t *testing.T) {
	svc, order := newService(t)
	cli, err := NewReconcileCLI(svc)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ReconcileCommand(context.Background(), ReconcileOptions{OrderID: order.ID, JSONOutput: true, Stdout: stdout, Stderr: stderr})
	require.Equal(t, ExitNotReconciled, exitCode)
	require.Empty(t, stderr.String())

	var report procurement.ReconciliationReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	require.False(t, report.FullyReconciled)
	require.Len(t, report.Lines, 2)
}

func TestReconcileCommandHumanReconciled(t *testing.T) {
	svc, order := newService(t)
	_, err := svc.Receive(context.Background(), procurement.ReceiveInput{
		OrderID: order.ID,
		Lines: []procurement.LineReception{
			{LineID: order.Lines[0].ID, QtyReceived: decimal.NewFromInt(10)},
			{LineID: order.Lines[1].ID, QtyReceived: decimal.NewFromInt(3), QtyDamaged: decimal.NewFromInt(1)},
		},
	})
	require.NoError(t, err)
	cli, err := NewReconcileCLI(svc)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	exitCode := cli.ReconcileCommand(context.Background(), ReconcileOptions{OrderID: order.ID, Stdout: stdout, Stderr: io.Discard})
	require.Zero(t, exitCode)
	require.Contains(t, stdout.String(), "Fully reconciled.")
	require.Contains(t, stdout.String(), "[ok]")
}

func TestReconcileCommandErrors(t *testing.T) {
	svc, _ := newService(t)
	cli, err := NewReconcileCLI(svc)
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	require.Equal(t, 1, cli.ReconcileCommand(context.Background(), ReconcileOptions{Stdout: io.Discard, Stderr: stderr}))
	require.Contains(t, stderr.String(), "--order is required")

	stderr.Reset()
	require.Equal(t, 1, cli.ReconcileCommand(context.Background(), ReconcileOptions{OrderID: 99, Stdout: io.Discard, Stderr: stderr}))
	require.Contains(t, stderr.String(), "reconcile:")
}

func TestReceiveImportDryRunLeavesOrderUntouched(t *testing.T) {
	svc, order := newService(t)
	cli, err := NewReceiveImportCLI(svc)
	require.NoError(t, err)

	source := "line_id,qty_received,qty_damaged\n# first truck\n" +
		itoa(order.Lines[0].ID) + ",6,1\n" +
		itoa(order.Lines[1].ID) + ",4,\n"
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ImportCommand(context.Background(), ReceiveImportOptions{
		OrderID:      order.ID,
		SourceReader: strings.NewReader(source),
		JSONOutput:   true,
		Stdout:       stdout,
		Stderr:       stderr,
	})
	require.Zero(t, exitCode, stderr.String())

	var summary ReceiveImportSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, ImportModeDry, summary.Mode)
	require.False(t, summary.Applied)
	require.Equal(t, procurement.OrderStatusReceived, summary.Status)
	require.Len(t, summary.Lines, 2)
	require.Equal(t, "3", summary.Lines[0].Outstanding.String())

	stored, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.OrderStatusSent, stored.Status)
}

func TestReceiveImportApplyRequiresConfirmation(t *testing.T) {
	svc, order := newService(t)
	cli, err := NewReceiveImportCLI(svc)
	require.NoError(t, err)
	source := "line_id,qty_received\n" + itoa(order.Lines[0].ID) + ",2\n"

	stderr := new(bytes.Buffer)
	exitCode := cli.ImportCommand(context.Background(), ReceiveImportOptions{
		OrderID:      order.ID,
		Mode:         ImportModeApply,
		SourceReader: strings.NewReader(source),
		Stdout:       io.Discard,
		Stderr:       stderr,
		Stdin:        strings.NewReader("no\n"),
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "cancelled by user")

	stdout := new(bytes.Buffer)
	exitCode = cli.ImportCommand(context.Background(), ReceiveImportOptions{
		OrderID:      order.ID,
		Mode:         ImportModeApply,
		SourceReader: strings.NewReader(source),
		Stdout:       stdout,
		Stderr:       io.Discard,
		Stdin:        strings.NewReader("YES\n"),
	})
	require.Zero(t, exitCode)
	require.Contains(t, stdout.String(), "moved to RECEIVED")

	stored, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, "2", stored.Lines[0].QtyReceived.String())
}

func TestReceiveImportRejectsBadInput(t *testing.T) {
	svc, order := newService(t)
	cli, err := NewReceiveImportCLI(svc)
	require.NoError(t, err)

	cases := map[string]struct {
		source string
		want   string
	}{
		"missing columns": {source: "line,qty\n1,2\n", want: "missing required columns"},
		"bad quantity":    {source: "line_id,qty_received\n" + itoa(order.Lines[0].ID) + ",abc\n", want: "invalid qty_received"},
		"over receipt":    {source: "line_id,qty_received\n" + itoa(order.Lines[0].ID) + ",11\n", want: "OverReceipt"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			stderr := new(bytes.Buffer)
			exitCode := cli.ImportCommand(context.Background(), ReceiveImportOptions{
				OrderID:      order.ID,
				SourceReader: strings.NewReader(tc.source),
				Stdout:       io.Discard,
				Stderr:       stderr,
			})
			require.Equal(t, 1, exitCode)
			require.Contains(t, stderr.String(), tc.want)
		})
	}
}

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubInspector struct {
	info     *asynq.QueueInfo
	err      error
	archived int
}

func (s *stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func (s *stubInspector) ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return nil, nil
}

func (s *stubInspector) RunAllArchivedTasks(queue string) (int, error) {
	return s.archived, nil
}

func TestJobsCLITriggerAndStats(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	inspector := &stubInspector{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 2, Archived: 1}, archived: 1}
	cli, err := NewJobsCLI(enqueuer, inspector)
	require.NoError(t, err)
	ctx := context.Background()

	info, err := cli.Trigger(ctx, jobs.TaskIdempotencyCleanup, 48*time.Hour)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskIdempotencyCleanup, info.Type)
	require.Len(t, enqueuer.tasks, 1)

	var payload jobs.IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(enqueuer.tasks[0].Payload(), &payload))
	require.Equal(t, 48*time.Hour, payload.Retention())

	_, err = cli.Trigger(ctx, "unknown", 0)
	require.Error(t, err)

	stats, err := cli.InspectQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Pending)
	require.Equal(t, 1, stats.Archived)

	moved, err := cli.RetryArchived(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	inspector.err = asynq.ErrQueueNotFound
	stats, err = cli.InspectQueue(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Pending)
}

func TestNewJobsCLIRequiresBackend(t *testing.T) {
	_, err := NewJobsCLI(nil, nil)
	require.Error(t, err)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
