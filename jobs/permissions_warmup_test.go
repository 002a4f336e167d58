package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/liana-admin/liana/internal/controlplane"
	"github.com/liana-admin/liana/internal/permissions"
)

type warmupFetcher struct {
	calls int
	err   error
}

func (f *warmupFetcher) FetchPermissions(ctx context.Context, renderingID string, renderingSpecificOnly bool) (*controlplane.PermissionsResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &controlplane.PermissionsResponse{
		Data: json.RawMessage(`{"books":{"collection":{"browseEnabled":true},"actions":{}}}`),
	}, nil
}

func newWarmupJob(fetcher *warmupFetcher) (*PermissionsWarmupJob, *permissions.Cache) {
	cache := permissions.NewCache(fetcher, time.Hour, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPermissionsWarmupJob(cache, logger, nil), cache
}

func TestPermissionsWarmupHandle(t *testing.T) {
	fetcher := &warmupFetcher{}
	job, cache := newWarmupJob(fetcher)

	task, err := NewPermissionsWarmupTask(PermissionsWarmupPayload{RenderingIDs: []string{"42", "43"}})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 2, fetcher.calls)
	require.False(t, cache.IsExpired("42", permissions.KindBrowse))
	require.False(t, cache.IsExpired("43", permissions.KindBrowse))
}

func TestPermissionsWarmupHandleFetchFailure(t *testing.T) {
	fetcher := &warmupFetcher{err: errors.New("control plane down")}
	job, _ := newWarmupJob(fetcher)

	task, err := NewPermissionsWarmupTask(PermissionsWarmupPayload{RenderingIDs: []string{"42"}})
	require.NoError(t, err)

	// A failed rendering surfaces the error so asynq retries the task.
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestPermissionsWarmupHandleBadPayload(t *testing.T) {
	job, _ := newWarmupJob(&warmupFetcher{})

	task := asynq.NewTask(TaskPermissionsWarmup, []byte("not-json"))
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}
