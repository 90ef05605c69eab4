package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"mini-binder/message"
	"mini-binder/rpcerr"
)

func echoHandler(ctx context.Context, req *Request) *message.ResponseFrame {
	return message.Success([]byte("ok"))
}

func slowHandler(ctx context.Context, req *Request) *message.ResponseFrame {
	time.Sleep(200 * time.Millisecond)
	return message.Success([]byte("ok"))
}

func failingHandler(ctx context.Context, req *Request) *message.ResponseFrame {
	return message.Failure(rpcerr.KindUnknownMethod, "no method 9")
}

func newRequest() *Request {
	return &Request{Endpoint: "service-a", Method: "getPid", Frame: &message.CallFrame{MethodID: 1}}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(zap.NewNop())(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", resp.Payload)
	}

	failed := LoggingMiddleware(zap.NewNop())(failingHandler)(context.Background(), newRequest())
	if !rpcerr.Is(failed.Err(), rpcerr.KindUnknownMethod) {
		t.Fatalf("logging must not alter failures, got %v", failed.Err())
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), newRequest())
	if err := resp.Err(); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), newRequest())
	err := resp.Err()
	if !rpcerr.Is(err, rpcerr.KindServerFault) || err.Error() != "ServerFault: request timed out" {
		t.Fatalf("expect timeout ServerFault, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first 2 pass, the 3rd is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if err := handler(context.Background(), newRequest()).Err(); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	err := handler(context.Background(), newRequest()).Err()
	if !rpcerr.Is(err, rpcerr.KindServerFault) || err.Error() != "ServerFault: rate limit exceeded" {
		t.Fatalf("request 3 should be rate limited, got: %v", err)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mw, err := MetricsMiddleware(reg)
	if err != nil {
		t.Fatal(err)
	}

	ok := mw(echoHandler)
	fail := mw(failingHandler)
	ok(context.Background(), newRequest())
	ok(context.Background(), newRequest())
	fail(context.Background(), newRequest())

	if n := testutil.ToFloat64(callsCounter(t, reg, "ok")); n != 2 {
		t.Fatalf("ok calls = %v, want 2", n)
	}
	if n := testutil.ToFloat64(callsCounter(t, reg, "UnknownMethod")); n != 1 {
		t.Fatalf("failed calls = %v, want 1", n)
	}

	if _, err := MetricsMiddleware(reg); err == nil {
		t.Fatal("registering twice on the same registry should fail")
	}
}

// callsCounter rebuilds a handle on the registered counter vector.
func callsCounter(t *testing.T, reg *prometheus.Registry, status string) prometheus.Collector {
	t.Helper()
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mini_binder",
		Name:      "calls_total",
		Help:      "Calls dispatched, by endpoint, method and status.",
	}, []string{"endpoint", "method", "status"})
	err := reg.Register(vec)
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		t.Fatalf("expected collector to be registered already, got %v", err)
	}
	return are.ExistingCollector.(*prometheus.CounterVec).WithLabelValues("service-a", "getPid", status)
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) *message.ResponseFrame {
				order = append(order, name+">")
				resp := next(ctx, req)
				order = append(order, "<"+name)
				return resp
			}
		}
	}

	handler := Chain(mark("a"), mark("b"), TimeOutMiddleware(500*time.Millisecond))(echoHandler)
	resp := handler(context.Background(), newRequest())
	if resp == nil || resp.Err() != nil {
		t.Fatalf("unexpected response %+v", resp)
	}

	want := []string{"a>", "b>", "<b", "<a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
