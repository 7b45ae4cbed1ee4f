package middleware

import (
	"context"
	"errors"
	"testing"
	"time"
)

func echoHandler(ctx context.Context, call *Call) *Result {
	return &Result{Payload: []byte("ok")}
}

func slowHandler(ctx context.Context, call *Call) *Result {
	time.Sleep(200 * time.Millisecond)
	return &Result{Payload: []byte("ok")}
}

func panicHandler(ctx context.Context, call *Call) *Result {
	panic("boom")
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware()(echoHandler)
	result := handler(context.Background(), &Call{Interface: "Arith", Method: "Add"})
	if result == nil {
		t.Fatal("expect non-nil result")
	}
	if string(result.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got %q", result.Payload)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeoutMiddleware(500 * time.Millisecond)(echoHandler)
	result := handler(context.Background(), &Call{Interface: "Arith", Method: "Add"})
	if result.Err != nil {
		t.Fatalf("expect no error, got %v", result.Err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeoutMiddleware(50 * time.Millisecond)(slowHandler)
	result := handler(context.Background(), &Call{Interface: "Arith", Method: "Add"})
	if result.Err == nil {
		t.Fatal("expect timeout error")
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	call := &Call{Interface: "Arith", Method: "Add"}

	for i := 0; i < 2; i++ {
		result := handler(context.Background(), call)
		if result.Err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, result.Err)
		}
	}

	result := handler(context.Background(), call)
	if !errors.Is(result.Err, ErrRateLimited) {
		t.Fatalf("request 3 should be rate limited, got: %v", result.Err)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	limiter := RateLimitMiddleware(1000, 1)(echoHandler) // burst 1: second call is limited, refills fast
	handler := RetryMiddleware(3, time.Millisecond)(limiter)

	call := &Call{Interface: "Arith", Method: "Add"}
	handler(context.Background(), call) // consume the single burst token
	result := handler(context.Background(), call)
	if result.Err != nil {
		t.Fatalf("expected retry to eventually succeed once the bucket refills, got %v", result.Err)
	}
}

func TestRecoverMiddlewareTurnsPanicIntoResult(t *testing.T) {
	handler := RecoverMiddleware()(panicHandler)
	result := handler(context.Background(), &Call{Interface: "Arith", Method: "Add"})
	if result.Err == nil {
		t.Fatal("expected panic to surface as a Result error")
	}
}

func TestChain(t *testing.T) {
	chained := Chain(LoggingMiddleware(), TimeoutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)

	result := handler(context.Background(), &Call{Interface: "Arith", Method: "Add"})
	if result == nil {
		t.Fatal("expect non-nil result")
	}
	if result.Err != nil {
		t.Fatalf("expect no error, got %v", result.Err)
	}
}
