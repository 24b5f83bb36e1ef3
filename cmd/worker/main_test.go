package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/jobs"
	"github.com/dvloznov/finance-agent/internal/logger"
)

// MockBacklog is a mock implementation of backlog for testing.
type MockBacklog struct {
	ListDocumentsFunc func(ctx context.Context) ([]*domain.Document, error)
	EnqueueFunc       func(ctx context.Context, documentID string) (*jobs.ProcessDocumentJob, error)
	JobFunc           func(ctx context.Context, jobID string) (*jobs.ProcessDocumentJob, error)
}

func (m *MockBacklog) ListDocuments(ctx context.Context) ([]*domain.Document, error) {
	return m.ListDocumentsFunc(ctx)
}

func (m *MockBacklog) Enqueue(ctx context.Context, documentID string) (*jobs.ProcessDocumentJob, error) {
	return m.EnqueueFunc(ctx, documentID)
}

func (m *MockBacklog) Job(ctx context.Context, jobID string) (*jobs.ProcessDocumentJob, error) {
	return m.JobFunc(ctx, jobID)
}

// newBacklog finishes each job on its second poll; documents named in fail
// end up failed.
func newBacklog(docs []*domain.Document, fail map[string]bool) (*MockBacklog, *[]string) {
	var (
		mu       sync.Mutex
		enqueued []string
		polls    = map[string]int{}
	)
	return &MockBacklog{
		ListDocumentsFunc: func(context.Context) ([]*domain.Document, error) { return docs, nil },
		EnqueueFunc: func(_ context.Context, id string) (*jobs.ProcessDocumentJob, error) {
			mu.Lock()
			defer mu.Unlock()
			enqueued = append(enqueued, id)
			return &jobs.ProcessDocumentJob{JobID: "job-" + id, DocumentID: id, Status: jobs.JobStatusPending}, nil
		},
		JobFunc: func(_ context.Context, jobID string) (*jobs.ProcessDocumentJob, error) {
			mu.Lock()
			defer mu.Unlock()
			polls[jobID]++
			id := jobID[len("job-"):]
			job := &jobs.ProcessDocumentJob{JobID: jobID, DocumentID: id, Status: jobs.JobStatusRunning}
			if polls[jobID] >= 2 {
				job.Status = jobs.JobStatusCompleted
				job.EntriesCreated = 1
				if fail[id] {
					job.Status = jobs.JobStatusFailed
					job.Error = "malformed analysis"
				}
			}
			return job, nil
		},
	}, &enqueued
}

func TestRun_DrainsPendingDocuments(t *testing.T) {
	docs := []*domain.Document{
		{ID: "a", Status: domain.StatusPending},
		{ID: "b", Status: domain.StatusProcessed},
		{ID: "c", Status: domain.StatusFailed},
		{ID: "d", Status: domain.StatusPending},
	}
	svc, enqueued := newBacklog(docs, map[string]bool{"d": true})

	sum, err := run(context.Background(), svc, options{PollInterval: time.Millisecond}, logger.Nop())

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, *enqueued)
	assert.Equal(t, summary{Enqueued: 2, Completed: 1, Failed: 1}, sum)
}

func TestRun_RetryFailed(t *testing.T) {
	docs := []*domain.Document{
		{ID: "a", Status: domain.StatusPending},
		{ID: "c", Status: domain.StatusFailed},
	}
	svc, enqueued := newBacklog(docs, nil)

	sum, err := run(context.Background(), svc, options{RetryFailed: true, PollInterval: time.Millisecond}, logger.Nop())

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, *enqueued)
	assert.Equal(t, 2, sum.Completed)
}

func TestRun_NothingToDo(t *testing.T) {
	svc, enqueued := newBacklog([]*domain.Document{{ID: "b", Status: domain.StatusProcessed}}, nil)

	sum, err := run(context.Background(), svc, options{PollInterval: time.Millisecond}, logger.Nop())

	require.NoError(t, err)
	assert.Empty(t, *enqueued)
	assert.Equal(t, summary{}, sum)
}

func TestRun_EnqueueError(t *testing.T) {
	svc, _ := newBacklog([]*domain.Document{{ID: "a", Status: domain.StatusPending}}, nil)
	svc.EnqueueFunc = func(context.Context, string) (*jobs.ProcessDocumentJob, error) {
		return nil, fmt.Errorf("Enqueue: %w", jobs.ErrQueueClosed)
	}

	_, err := run(context.Background(), svc, options{PollInterval: time.Millisecond}, logger.Nop())

	assert.True(t, errors.Is(err, jobs.ErrQueueClosed))
}

func TestRun_StopsOnCancel(t *testing.T) {
	svc, _ := newBacklog([]*domain.Document{{ID: "a", Status: domain.StatusPending}}, nil)
	svc.JobFunc = func(_ context.Context, jobID string) (*jobs.ProcessDocumentJob, error) {
		return &jobs.ProcessDocumentJob{JobID: jobID, Status: jobs.JobStatusRunning}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := run(ctx, svc, options{PollInterval: time.Millisecond}, logger.Nop())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
