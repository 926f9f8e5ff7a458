package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (c *countingSource) RefreshUniverses(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

type countingPruner struct {
	calls atomic.Int32
}

func (p *countingPruner) Prune() (int, error) {
	p.calls.Add(1)
	return 1, nil
}

func TestWorkerTicks(t *testing.T) {
	src := &countingSource{err: errors.New("connection refused")}
	pruner := &countingPruner{}
	w := NewWorker(src, pruner, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return src.calls.Load() >= 2 && pruner.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerDisabled(t *testing.T) {
	src := &countingSource{}
	w := NewWorker(src, nil, 0, zerolog.Nop())

	w.Start(context.Background())
	assert.Zero(t, src.calls.Load())
}

func TestTickWithoutPruner(t *testing.T) {
	src := &countingSource{}
	w := NewWorker(src, nil, time.Minute, zerolog.Nop())

	w.tick(context.Background())
	assert.Equal(t, int32(1), src.calls.Load())
}
