package pending

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEnqueueTakeNextWriteRoundTrip(t *testing.T) {
	q := New()
	ctx := context.Background()

	call, err := q.Enqueue(ctx, 100, "Arith", "Add", []byte("args"))
	if err != nil {
		t.Fatal(err)
	}

	frame, err := q.TakeNextWrite(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if frame.RpcID != int64(call.RpcID) || frame.Method != "Add" {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	if ok := q.HandleResponse(call.RpcID, KindReturn, []byte("8")); !ok {
		t.Fatal("expected HandleResponse to match the outstanding call")
	}
	if err := call.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if call.ResponseKind != KindReturn || string(call.ResponsePayload) != "8" {
		t.Fatalf("unexpected response: %+v", call)
	}
	q.Recycle(call)
}

func TestRpcIDMonotonicityUnderConcurrency(t *testing.T) {
	q := New()
	ctx := context.Background()
	const n = 200

	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			call, err := q.Enqueue(ctx, 1, "Arith", "Add", nil)
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = int64(call.RpcID)
			q.HandleResponse(call.RpcID, KindReturn, nil)
		}(i)
	}
	wg.Wait()

	// Drain the write channel so the frames don't leak between test runs.
	for i := 0; i < n; i++ {
		if _, err := q.TakeNextWrite(ctx); err != nil {
			t.Fatal(err)
		}
	}

	seen := make(map[int64]bool, n)
	for _, id := range ids {
		if id <= 0 {
			t.Fatalf("expected a positive rpc id, got %d", id)
		}
		if seen[id] {
			t.Fatalf("duplicate rpc id %d", id)
		}
		seen[id] = true
	}
}

func TestCancelAllDrainsPendingTableAndSignalsConnectionLost(t *testing.T) {
	q := New()
	ctx := context.Background()

	var calls []*Call
	for i := 0; i < 5; i++ {
		c, err := q.Enqueue(ctx, uint64(i), "Arith", "Add", nil)
		if err != nil {
			t.Fatal(err)
		}
		calls = append(calls, c)
		if _, err := q.TakeNextWrite(ctx); err != nil {
			t.Fatal(err)
		}
	}

	q.CancelAll(nil)

	if got := q.InFlight(); got != 0 {
		t.Fatalf("expected pending table to be empty after CancelAll, got %d entries", got)
	}

	deadline := time.After(time.Second)
	for _, c := range calls {
		select {
		case <-c.done:
		case <-deadline:
			t.Fatal("timed out waiting for cancelled call")
		}
		if c.ResponseKind != KindException {
			t.Fatalf("expected cancelled call to carry KindException, got %v", c.ResponseKind)
		}
	}
}

func TestHandleResponseAndCancelAllRaceCompletesOnce(t *testing.T) {
	q := New()
	ctx := context.Background()
	call, err := q.Enqueue(ctx, 1, "Arith", "Add", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.TakeNextWrite(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); q.HandleResponse(call.RpcID, KindReturn, []byte("ok")) }()
	go func() { defer wg.Done(); q.CancelAll(nil) }()
	wg.Wait()

	select {
	case <-call.done:
	default:
		t.Fatal("expected call to be completed by one of HandleResponse/CancelAll")
	}
}

func TestEnqueueRespectsInFlightCap(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var calls []*Call
	for i := 0; i < MaxInFlight; i++ {
		c, err := q.Enqueue(context.Background(), 1, "Arith", "Add", nil)
		if err != nil {
			t.Fatal(err)
		}
		calls = append(calls, c)
	}

	if _, err := q.Enqueue(ctx, 1, "Arith", "Add", nil); err == nil {
		t.Fatal("expected Enqueue to block and time out once at the in-flight cap")
	}
}
