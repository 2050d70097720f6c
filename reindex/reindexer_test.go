package reindex

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/bizkb/ingestion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticBusinesses []string

func (s staticBusinesses) BusinessIDs() []string { return s }

type mockRebuilder struct {
	mu    sync.Mutex
	calls map[string]int
	// RebuildFunc decides the outcome of each call.
	RebuildFunc func(id string, attempt int) error
}

func (m *mockRebuilder) Rebuild(_ context.Context, id string) error {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[id]++
	attempt := m.calls[id]
	m.mu.Unlock()
	if m.RebuildFunc == nil {
		return nil
	}
	return m.RebuildFunc(id, attempt)
}

func fastConfig() *Config {
	return &Config{ReportInterval: 1, MaxRetries: 2, RetryDelay: time.Millisecond}
}

func TestNewReindexer_Validation(t *testing.T) {
	_, err := NewReindexer(nil, &mockRebuilder{}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrBusinessesRequired)
	_, err = NewReindexer(staticBusinesses{}, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrRebuilderRequired)
	_, err = NewReindexer(staticBusinesses{}, &mockRebuilder{}, &Config{MaxRetries: 0}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestRun_NoBusinesses(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewReindexer(staticBusinesses{}, &mockRebuilder{}, fastConfig(), &buf, nil)
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Contains(t, buf.String(), "No businesses found")
}

func TestRun_RebuildsEveryBusiness(t *testing.T) {
	var buf bytes.Buffer
	rb := &mockRebuilder{RebuildFunc: func(id string, attempt int) error {
		switch {
		case id == "empty":
			return ingestion.ErrNoActiveDocuments
		case id == "flaky" && attempt == 1:
			return errors.New("transient")
		}
		return nil
	}}
	r, err := NewReindexer(staticBusinesses{"a", "empty", "flaky"}, rb, fastConfig(), &buf, nil)
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, []string{"a", "flaky"}, report.Rebuilt)
	assert.Equal(t, []string{"empty"}, report.Skipped)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 2, rb.calls["flaky"])
	assert.Equal(t, 1, rb.calls["empty"])
	assert.Contains(t, buf.String(), "3/3 businesses")
	assert.Contains(t, buf.String(), "2 rebuilt, 1 skipped, 0 failed")
}

func TestRun_FailureDoesNotStopSweep(t *testing.T) {
	boom := errors.New("index unavailable")
	rb := &mockRebuilder{RebuildFunc: func(id string, _ int) error {
		if id == "bad" {
			return boom
		}
		return nil
	}}
	r, err := NewReindexer(staticBusinesses{"bad", "good"}, rb, fastConfig(), nil, nil)
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"good"}, report.Rebuilt)
	assert.ErrorIs(t, report.Failed["bad"], boom)
	assert.Equal(t, 2, rb.calls["bad"])
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rb := &mockRebuilder{}
	r, err := NewReindexer(staticBusinesses{"a", "b"}, rb, fastConfig(), nil, nil)
	require.NoError(t, err)

	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rb.calls)
}
