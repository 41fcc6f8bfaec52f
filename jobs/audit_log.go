package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/Dev-aquilas225/stock-sub001/internal/audit"
	jobmetrics "github.com/Dev-aquilas225/stock-sub001/internal/jobs"
	"github.com/Dev-aquilas225/stock-sub001/internal/procurement"
	"github.com/Dev-aquilas225/stock-sub001/internal/shared"
)

// ApprovalModuleReturn scopes approval records of return requests.
const ApprovalModuleReturn = "RETURN"

// AuditWriter stores audit rows.
type AuditWriter interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalWriter stores approval history.
type ApprovalWriter interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string, at time.Time) error
}

// AuditJob turns workflow events into audit_logs and approvals rows.
type AuditJob struct {
	audit     AuditWriter
	approvals ApprovalWriter
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
}

// NewAuditJob wires the job. approvals may be nil.
func NewAuditJob(writer AuditWriter, approvals ApprovalWriter, metrics *jobmetrics.Metrics, logger *slog.Logger) *AuditJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditJob{audit: writer, approvals: approvals, metrics: metrics, logger: logger}
}

// Handle processes TaskProcurementAudit tasks.
func (j *AuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	var evt procurement.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		j.logger.Error("decode audit event", slog.Any("error", err))
		return fmt.Errorf("decode audit event: %v: %w", err, asynq.SkipRetry)
	}
	return j.metrics.Track("audit_log").End(j.Persist(ctx, evt))
}

// Publish persists the event synchronously, for deployments without a queue.
func (j *AuditJob) Publish(ctx context.Context, evt procurement.Event) error {
	return j.metrics.Track("audit_log").End(j.Persist(ctx, evt))
}

// Persist writes the audit row and, for return decisions, the approval trail.
func (j *AuditJob) Persist(ctx context.Context, evt procurement.Event) error {
	meta := make(map[string]any, len(evt.Data)+2)
	for k, v := range evt.Data {
		meta[k] = v
	}
	meta["event_id"] = evt.ID.String()
	meta["reference"] = evt.Reference
	if err := j.audit.Record(ctx, shared.AuditLog{
		ActorID:  evt.ActorID,
		Action:   string(evt.Type),
		Entity:   audit.EntityOrder,
		EntityID: strconv.FormatInt(evt.OrderID, 10),
		Meta:     meta,
		At:       evt.OccurredAt,
	}); err != nil {
		return err
	}
	if err := j.recordApproval(ctx, evt); err != nil {
		return err
	}
	j.metrics.AddAuditEvent(string(evt.Type))
	return nil
}

func (j *AuditJob) recordApproval(ctx context.Context, evt procurement.Event) error {
	if j.approvals == nil || evt.ActorID == 0 {
		return nil
	}
	if evt.Type != procurement.EventReturnRequested && evt.Type != procurement.EventReturnDecided {
		return nil
	}
	raw, _ := evt.Data["return_id"].(string)
	ref, err := uuid.Parse(raw)
	if err != nil {
		j.logger.Warn("audit event without return id", slog.String("event_id", evt.ID.String()))
		return nil
	}
	if evt.Type == procurement.EventReturnRequested {
		motive, _ := evt.Data["motive"].(string)
		return j.approvals.EnsureSubmit(ctx, ApprovalModuleReturn, ref, evt.ActorID, motive, evt.OccurredAt)
	}
	action := shared.ApprovalApprove
	if status, _ := evt.Data["status"].(string); status == string(procurement.ReturnStatusRejected) {
		action = shared.ApprovalReject
	}
	note, _ := evt.Data["note"].(string)
	return j.approvals.Record(ctx, shared.ApprovalLog{
		Module:  ApprovalModuleReturn,
		RefID:   ref,
		ActorID: evt.ActorID,
		Action:  action,
		Note:    note,
		At:      evt.OccurredAt,
	})
}
