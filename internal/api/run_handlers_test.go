package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pcspec-crawler/internal/storage/memory"
	"github.com/JakeFAU/pcspec-crawler/internal/store"
)

func seededRuns(t *testing.T) (*memory.RunStore, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	repo := memory.NewRunStore()
	runID := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, repo.UpsertRunStart(ctx, runID, now.Add(-time.Minute)))
	require.NoError(t, repo.UpsertSourceStats(ctx, runID, "alza", store.SourceDelta{Pages: 3, Records: 20, Batches: 2}, now))
	require.NoError(t, repo.CompleteSource(ctx, runID, "alza", store.RunSuccess, now))
	return repo, runID
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	repo, runID := seededRuns(t)
	srv := NewServer(nil, repo, zap.NewNop())

	rec := serve(t, srv.Handler(), http.MethodGet, "/v1/runs/"+runID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, runID.String(), body.Run.ID)
	assert.Equal(t, string(store.RunRunning), body.Run.Status)
}

func TestGetRunErrors(t *testing.T) {
	t.Parallel()

	repo, _ := seededRuns(t)
	srv := NewServer(nil, repo, zap.NewNop())

	rec := serve(t, srv.Handler(), http.MethodGet, "/v1/runs/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, srv.Handler(), http.MethodGet, "/v1/runs/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	broken := NewServer(nil, failingRuns{err: errors.New("db down")}, zap.NewNop())
	rec = serve(t, broken.Handler(), http.MethodGet, "/v1/runs/"+uuid.NewString())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	missing := NewServer(nil, nil, zap.NewNop())
	rec = serve(t, missing.Handler(), http.MethodGet, "/v1/runs/"+uuid.NewString())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRunSources(t *testing.T) {
	t.Parallel()

	repo, runID := seededRuns(t)
	srv := NewServer(nil, repo, zap.NewNop())

	rec := serve(t, srv.Handler(), http.MethodGet, "/v1/runs/"+runID.String()+"/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sources []sourceDTO `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sources, 1)
	assert.Equal(t, "alza", body.Sources[0].Source)
	assert.EqualValues(t, 20, body.Sources[0].Records)
	assert.Equal(t, string(store.RunSuccess), body.Sources[0].Status)

	broken := NewServer(nil, failingRuns{err: errors.New("db down")}, zap.NewNop())
	rec = serve(t, broken.Handler(), http.MethodGet, "/v1/runs/"+runID.String()+"/sources")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type failingRuns struct {
	err error
}

func (f failingRuns) UpsertRunStart(context.Context, uuid.UUID, time.Time) error { return f.err }

func (f failingRuns) CompleteRun(context.Context, uuid.UUID, time.Time, store.RunStatus, *string) error {
	return f.err
}

func (f failingRuns) UpsertSourceStats(context.Context, uuid.UUID, string, store.SourceDelta, time.Time) error {
	return f.err
}

func (f failingRuns) CompleteSource(context.Context, uuid.UUID, string, store.RunStatus, time.Time) error {
	return f.err
}

func (f failingRuns) GetRun(context.Context, uuid.UUID) (store.Run, error) { return store.Run{}, f.err }

func (f failingRuns) ListSourceStats(context.Context, uuid.UUID) ([]store.SourceStats, error) {
	return nil, f.err
}
