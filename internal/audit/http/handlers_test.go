package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Dev-aquilas225/stock-sub001/internal/audit"
	"github.com/Dev-aquilas225/stock-sub001/internal/procurement"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

func newRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/audit", handler.MountRoutes)
	return r
}

func TestTimelineReturnsRows(t *testing.T) {
	rows := []audit.TimelineRow{{At: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), ActorID: 7, Action: "ReturnDecided", Entity: audit.EntityOrder, EntityID: "1"}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 2, PageSize: 10}}}
	req := httptest.NewRequest(http.MethodGet, "/audit/timeline?entity=purchase_order&entity_id=1&from=2025-03-01&to=2025-03-15&page=2&page_size=10&actor=7", nil)
	rr := httptest.NewRecorder()
	newRouter(NewHandler(nil, service, audit.NewExporter())).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got audit.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Rows) != 1 || got.Rows[0].Action != "ReturnDecided" {
		t.Fatalf("unexpected rows: %+v", got.Rows)
	}
	f := service.lastFilters
	if f.EntityID != "1" || f.ActorID != 7 || f.Page != 2 || f.PageSize != 10 {
		t.Fatalf("unexpected filters: %+v", f)
	}
	if f.To.Format("2006-01-02") != "2025-03-16" {
		t.Fatalf("expected inclusive end date, got %s", f.To)
	}
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	handler := NewHandler(nil, &stubTimelineService{}, nil)
	for _, query := range []string{"from=2025-13-01", "from=2025-03-10&to=2025-03-01", "page=0", "actor=abc"} {
		rr := httptest.NewRecorder()
		newRouter(handler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/timeline?"+query, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestExportCSV(t *testing.T) {
	rows := []audit.TimelineRow{{At: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), ActorID: 3, Action: "OrderCreated", Entity: audit.EntityOrder, EntityID: "4"}}
	service := &stubTimelineService{exportRows: rows}
	rr := httptest.NewRecorder()
	newRouter(NewHandler(nil, service, audit.NewExporter())).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/timeline/export.csv", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ctype := rr.Header().Get("Content-Type"); !strings.Contains(ctype, "text/csv") {
		t.Fatalf("unexpected content-type: %s", ctype)
	}
	if !strings.Contains(rr.Body.String(), "2025-03-10T10:00:00Z,3,OrderCreated,purchase_order,4,") {
		t.Fatalf("unexpected csv: %s", rr.Body.String())
	}
}

func TestTimelineWithoutServiceIsNotImplemented(t *testing.T) {
	rr := httptest.NewRecorder()
	newRouter(NewHandler(nil, nil, nil)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/timeline", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}
}

func TestMemoryLogTimelineEndToEnd(t *testing.T) {
	log := audit.NewMemoryLog(nil)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, typ := range []procurement.EventType{procurement.EventOrderCreated, procurement.EventOrderTransitioned, procurement.EventReceptionRecorded} {
		evt := procurement.Event{ID: uuid.New(), Type: typ, OrderID: 1, Reference: "PO-1", OccurredAt: base.Add(time.Duration(i) * time.Minute)}
		if err := log.Publish(ctx, evt); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := log.Publish(ctx, procurement.Event{ID: uuid.New(), Type: procurement.EventOrderCreated, OrderID: 2, OccurredAt: base}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	handler := NewHandler(nil, audit.NewService(log), audit.NewExporter())
	rr := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/timeline?entity_id=1&page_size=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got audit.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Rows) != 2 || !got.Paging.HasNext {
		t.Fatalf("unexpected page: %+v", got)
	}
	if got.Rows[0].Action != string(procurement.EventReceptionRecorded) {
		t.Fatalf("expected newest first, got %s", got.Rows[0].Action)
	}
}
