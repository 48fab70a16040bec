package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bookloan/apiserver/internal/services"
	"github.com/bookloan/apiserver/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	stale  []types.Transaction
	err    error
	maxAge time.Duration
}

func (f *fakeSource) Stale(_ context.Context, maxAge time.Duration) ([]types.Transaction, error) {
	f.maxAge = maxAge
	return f.stale, f.err
}

type capturePublisher struct {
	data  [][]byte
	attrs []map[string]string
}

func (c *capturePublisher) Publish(_ context.Context, _ string, data []byte, attrs map[string]string) (string, error) {
	c.data = append(c.data, data)
	c.attrs = append(c.attrs, attrs)
	return "id", nil
}

func TestStaleReporterPublishes(t *testing.T) {
	source := &fakeSource{stale: []types.Transaction{
		{ID: 4, UserID: 1, BookID: 2, Status: types.StatusPending},
		{ID: 9, UserID: 3, BookID: 2, Status: types.StatusPendingReturn},
	}}
	publisher := &capturePublisher{}
	var logs bytes.Buffer
	reporter := NewStaleReporter(source, services.NewEvents(publisher, "c"), 72*time.Hour, zerolog.New(&logs))

	stale, err := reporter.Report(context.Background())
	require.NoError(t, err)
	assert.Len(t, stale, 2)
	assert.Equal(t, 72*time.Hour, source.maxAge)

	require.Len(t, publisher.data, 1)
	assert.Equal(t, services.EventStaleTransaction, publisher.attrs[0]["type"])
	var report services.StaleReport
	require.NoError(t, json.Unmarshal(publisher.data[0], &report))
	assert.Equal(t, 2, report.Count)
	assert.Equal(t, []int64{4, 9}, report.TransactionIDs)
	assert.Equal(t, "72h0m0s", report.MaxAge)

	assert.Contains(t, logs.String(), "transaction awaiting admin action")
}

func TestStaleReporterQuietWhenNothingStale(t *testing.T) {
	publisher := &capturePublisher{}
	reporter := NewStaleReporter(&fakeSource{}, services.NewEvents(publisher, "c"), time.Hour, zerolog.Nop())

	stale, err := reporter.Report(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stale)
	assert.Empty(t, publisher.data)
}

func TestStaleReporterError(t *testing.T) {
	reporter := NewStaleReporter(&fakeSource{err: errors.New("db down")}, nil, time.Hour, zerolog.Nop())
	_, err := reporter.Report(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	ran := make(chan struct{}, 1)

	require.NoError(t, s.Add("disabled", "", func(context.Context) error {
		t.Error("disabled job ran")
		return nil
	}))
	assert.Error(t, s.Add("broken", "not a schedule", func(context.Context) error { return nil }))
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))

	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}

type lineWriter chan []byte

func (w lineWriter) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)
	select {
	case w <- line:
	default:
	}
	return len(p), nil
}

func TestSchedulerLogsJobErrors(t *testing.T) {
	lines := make(lineWriter, 16)
	s := NewScheduler(zerolog.New(lines))
	require.NoError(t, s.Add(staleJobName, "@every 1s", func(context.Context) error {
		return errors.New("db down")
	}))

	s.Start()
	defer s.Stop(context.Background())

	deadline := time.After(5 * time.Second)
	for {
		select {
		case line := <-lines:
			var entry map[string]any
			if json.Unmarshal(line, &entry) != nil || entry["message"] != "job failed" {
				continue
			}
			assert.Equal(t, staleJobName, entry["job"])
			assert.Equal(t, "db down", entry["error"])
			return
		case <-deadline:
			t.Fatal("job failure was not logged")
		}
	}
}

const staleJobName = "stale-report"
