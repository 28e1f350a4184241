package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-ingest/internal/connections"
)

type staticLister struct {
	conns []connections.Connection
	err   error
}

func (l staticLister) ListSchedulable(context.Context) ([]connections.Connection, error) {
	return l.conns, l.err
}

type trackingTrigger struct {
	mu      sync.Mutex
	seen    []string
	active  atomic.Int32
	peak    atomic.Int32
	failFor string
}

func (tr *trackingTrigger) TriggerScan(_ context.Context, connectionID string) (TriggerResult, error) {
	n := tr.active.Add(1)
	defer tr.active.Add(-1)
	for {
		peak := tr.peak.Load()
		if n <= peak || tr.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	tr.mu.Lock()
	tr.seen = append(tr.seen, connectionID)
	tr.mu.Unlock()
	if connectionID == tr.failFor {
		return TriggerResult{}, errors.New("boom")
	}
	return TriggerResult{Success: true}, nil
}

func schedulable(n int) []connections.Connection {
	out := make([]connections.Connection, n)
	for i := range out {
		out[i] = connections.Connection{ID: fmt.Sprintf("c%d", i)}
	}
	return out
}

func TestSchedulerRunOnceVisitsEveryConnection(t *testing.T) {
	trigger := &trackingTrigger{failFor: "c2"}
	s := NewScheduler(staticLister{conns: schedulable(8)}, trigger, time.Hour, 3)

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Len(t, trigger.seen, 8)
	assert.LessOrEqual(t, trigger.peak.Load(), int32(3))
}

func TestSchedulerRunOnceListFailure(t *testing.T) {
	s := NewScheduler(staticLister{err: errors.New("db down")}, &trackingTrigger{}, time.Hour, 2)
	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	trigger := &trackingTrigger{}
	s := NewScheduler(staticLister{conns: schedulable(2)}, trigger, time.Hour, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.Run(ctx))
	assert.Len(t, trigger.seen, 2)
}

func TestSchedulerScansRealConnections(t *testing.T) {
	f := newFixture(t, Options{})
	f.mailbox.addPDFMessage("m1", "Facture_Acme.pdf")
	f.mailbox.setPages([]string{"m1"})
	s := NewScheduler(f.conns, newService(f, nil), time.Hour, 2)

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.documents(t), 1)
}
