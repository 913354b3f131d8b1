package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/workflow"
)

type stubAnalyzer struct {
	mu     sync.Mutex
	calls  int
	result *core.AnalysisResult
	err    error
	gate   chan struct{}
}

func (a *stubAnalyzer) Analyze(ctx context.Context, blob *core.ImageBlob) (*core.AnalysisResult, error) {
	a.mu.Lock()
	a.calls++
	gate := a.gate
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.result, a.err
}

func newTestRegistry(max int, ttl time.Duration) (*Registry, *time.Time) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry(func() *workflow.Controller {
		return workflow.New(&stubAnalyzer{})
	}, max, ttl)
	reg.now = func() time.Time { return now }
	return reg, &now
}

func TestRegistryCreateGetDelete(t *testing.T) {
	reg, _ := newTestRegistry(0, 0)

	s, err := reg.Create()
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
	assert.Equal(t, workflow.PhaseNoImage, s.Controller.Phase())

	got, err := reg.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, reg.Delete(s.ID))
	_, err = reg.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, reg.Delete(s.ID), ErrSessionNotFound)
}

func TestRegistryLimit(t *testing.T) {
	reg, _ := newTestRegistry(2, 0)

	_, err := reg.Create()
	require.NoError(t, err)
	_, err = reg.Create()
	require.NoError(t, err)
	_, err = reg.Create()
	assert.ErrorIs(t, err, ErrTooManySessions)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryExpiry(t *testing.T) {
	reg, now := newTestRegistry(1, time.Minute)

	s, err := reg.Create()
	require.NoError(t, err)

	*now = now.Add(30 * time.Second)
	_, err = reg.Get(s.ID)
	require.NoError(t, err, "access refreshes the idle clock")

	*now = now.Add(50 * time.Second)
	_, err = reg.Get(s.ID)
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	_, err = reg.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistrySweepFreesCapacity(t *testing.T) {
	reg, now := newTestRegistry(1, time.Minute)

	_, err := reg.Create()
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	_, err = reg.Create()
	require.NoError(t, err, "expired session is swept before the limit check")
	assert.Equal(t, 1, reg.Len())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, reg.Sweep())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryRunStopsWithContext(t *testing.T) {
	reg, _ := newTestRegistry(0, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
