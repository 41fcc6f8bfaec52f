package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	window  []TimelineRow
	all     []TimelineRow
	err     error
	lastArg WindowParams
}

func (f *fakeRepo) TimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	f.lastArg = arg
	return f.window, f.err
}

func (f *fakeRepo) TimelineAll(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	f.lastArg = arg
	return f.all, f.err
}

func TestTimelineDetectsNextPage(t *testing.T) {
	repo := &fakeRepo{window: []TimelineRow{{ID: 3}, {ID: 2}, {ID: 1}}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2, EntityID: " 9 "})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
	require.Equal(t, 3, result.Paging.NextPage)
	require.EqualValues(t, 2, repo.lastArg.Offset)
	require.EqualValues(t, 3, repo.lastArg.Limit)
	require.True(t, repo.lastArg.EntityID.Valid)
	require.Equal(t, "9", repo.lastArg.EntityID.String)
	require.False(t, repo.lastArg.Actor.Valid)
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, maxPageSize, result.Paging.PageSize)
	require.Equal(t, 1, result.Paging.Page)
	require.NotNil(t, result.Rows)
	require.EqualValues(t, maxPageSize+1, repo.lastArg.Limit)
}

func TestExportPassesFilters(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeRepo{all: []TimelineRow{{ID: 1}}}
	svc := NewService(repo)

	rows, err := svc.Export(context.Background(), TimelineFilters{From: from, ActorID: 4, Action: "ReturnDecided"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, repo.lastArg.FromAt.Valid)
	require.True(t, repo.lastArg.FromAt.Time.Equal(from))
	require.False(t, repo.lastArg.ToAt.Valid)
	require.Equal(t, int64(4), repo.lastArg.Actor.Int64)
	require.Equal(t, "ReturnDecided", repo.lastArg.Action.String)
}

func TestServiceErrors(t *testing.T) {
	_, err := NewService(nil).Timeline(context.Background(), TimelineFilters{})
	require.Error(t, err)

	boom := errors.New("boom")
	_, err = NewService(&fakeRepo{err: boom}).Export(context.Background(), TimelineFilters{})
	require.ErrorIs(t, err, boom)
}

func TestWriteCSVEncodesMeta(t *testing.T) {
	rows := []TimelineRow{{
		At:       time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		ActorID:  2,
		Action:   "ReturnRequested",
		Entity:   EntityOrder,
		EntityID: "1",
		Meta:     map[string]any{"qty": "3"},
	}}
	out, err := NewExporter().WriteCSV(rows)
	require.NoError(t, err)
	require.Equal(t, "at,actor_id,action,entity,entity_id,meta\n2025-03-10T09:00:00Z,2,ReturnRequested,purchase_order,1,\"{\"\"qty\"\":\"\"3\"\"}\"\n", string(out))
}
