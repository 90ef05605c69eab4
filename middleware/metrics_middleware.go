package middleware

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"mini-binder/message"
	"mini-binder/rpcerr"
)

// MetricsMiddleware counts calls by endpoint, method and outcome, and records
// their latency. The collectors are registered with reg.
func MetricsMiddleware(reg prometheus.Registerer) (Middleware, error) {
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mini_binder",
		Name:      "calls_total",
		Help:      "Calls dispatched, by endpoint, method and status.",
	}, []string{"endpoint", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mini_binder",
		Name:      "call_duration_seconds",
		Help:      "Time spent dispatching a call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint", "method"})

	for _, c := range []prometheus.Collector{calls, latency} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register call metrics")
		}
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *message.ResponseFrame {
			start := time.Now()
			resp := next(ctx, req)
			status := "ok"
			if err := resp.Err(); err != nil {
				status = rpcerr.KindOf(err).String()
			}
			calls.WithLabelValues(req.Endpoint, req.Method, status).Inc()
			latency.WithLabelValues(req.Endpoint, req.Method).Observe(time.Since(start).Seconds())
			return resp
		}
	}, nil
}
