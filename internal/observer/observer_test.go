// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package observer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObserverDispatchesToRegisteredHandler(t *testing.T) {
	o := New(16)
	var got atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	o.On(OpPersistBan, func(ctx context.Context, ev Event) {
		got.Store(1)
		wg.Done()
	})
	o.Start()
	defer o.Stop(context.Background())

	o.Emit(Event{Op: OpPersistBan})

	waitWithTimeout(t, &wg, time.Second)
	require.Equal(t, int32(1), got.Load())
}

func TestObserverHandlerPanicDoesNotStopConsumer(t *testing.T) {
	o := New(16)
	var called atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	o.On(OpNotifyFailure, func(ctx context.Context, ev Event) {
		panic("boom")
	})
	o.On(OpBanTimeIncrement, func(ctx context.Context, ev Event) {
		called.Store(1)
		wg.Done()
	})
	o.Start()
	defer o.Stop(context.Background())

	o.Emit(Event{Op: OpNotifyFailure})
	o.Emit(Event{Op: OpBanTimeIncrement})

	waitWithTimeout(t, &wg, time.Second)
	require.Equal(t, int32(1), called.Load())
}

func TestObserverStopDrainsQueue(t *testing.T) {
	o := New(4)
	var n atomic.Int32
	o.On(OpPersistUnban, func(ctx context.Context, ev Event) {
		n.Add(1)
	})
	o.Start()

	for i := 0; i < 4; i++ {
		o.Emit(Event{Op: OpPersistUnban})
	}
	require.NoError(t, o.Stop(context.Background()))
	require.Equal(t, int32(4), n.Load())
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for handler")
	}
}
