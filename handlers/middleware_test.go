package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/akila/mesh-simplifier/metrics"
	"github.com/akila/mesh-simplifier/models"
	"github.com/akila/mesh-simplifier/simplifier"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mark("first"), mark("second"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Recovery(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil mesh")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/simplify", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "nil mesh\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRecovery_AbortHandlerRepanics(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		_, err := uuid.Parse(seen)
		require.NoError(t, err)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("preserved", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "client-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "client-123", seen)
		assert.Equal(t, "client-123", rec.Header().Get(RequestIDHeader))
	})
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestIDFromContext(req.Context()))
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/simplify", nil))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(http.StatusBadRequest), fields["status"])
	assert.Equal(t, "/simplify", fields["path"])
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, zap.NewNop())
	h := MetricsMiddleware(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))

	n, err := testutil.GatherAndCount(reg, "test_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per route label")
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/simplify", "/simplify"},
		{"/health", "/health"},
		{"/ready", "/ready"},
		{"/version", "/version"},
		{"/simplify/extra", "other"},
		{"/", "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, routeLabel(tt.path), tt.path)
	}
}

func TestCORS(t *testing.T) {
	called := false
	h := CORS("*")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/simplify", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/simplify", nil))
	assert.True(t, called)
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}

func TestResponseWriter_CapturesStatusAndBytes(t *testing.T) {
	rw := wrapResponseWriter(httptest.NewRecorder())
	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusTeapot)
	rw.Write([]byte("hello"))

	assert.Equal(t, http.StatusCreated, rw.statusCode)
	assert.Equal(t, int64(5), rw.bytesWritten)
}

const (
	upstreamTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	upstreamSpanID  = "00f067aa0ba902b7"
	upstreamParent  = "00-" + upstreamTraceID + "-" + upstreamSpanID + "-01"
)

func useGlobalTracing(t *testing.T, tp trace.TracerProvider) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origProp := otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetTextMapPropagator(origProp)
	})
}

// outputRunner stands in for the simplifier binary by writing the -o path.
type outputRunner struct{}

func (outputRunner) Run(ctx context.Context, argv []string) (*models.JobResult, error) {
	for i := 0; i+1 < len(argv); i++ {
		if argv[i] == simplifier.FlagOutput {
			if err := os.WriteFile(argv[i+1], []byte("glTF"), 0o644); err != nil {
				return nil, err
			}
		}
	}
	return &models.JobResult{}, nil
}

func TestOTelTracing_ParentsSimplifierSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	useGlobalTracing(t, tp)

	proc := simplifier.NewProcessSimplifier(simplifier.Config{Executable: "vcg-simplifier"}, outputRunner{}, nil, zap.NewNop())
	h, _ := newTestHandler(t, proc)
	chain := Chain(http.HandlerFunc(h.HandleSimplify), Recovery(zap.NewNop()), RequestID(), OTelTracing())

	req := multipartRequest(t, &upload{filename: "bunny.obj", content: "v 0 0 0"}, nil)
	req.Header.Set("traceparent", upstreamParent)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var serverSpan, runSpan sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		switch s.Name() {
		case "POST /simplify":
			serverSpan = s
		case "simplifier.run":
			runSpan = s
		}
	}
	require.NotNil(t, serverSpan)
	require.NotNil(t, runSpan)

	assert.Equal(t, trace.SpanKindServer, serverSpan.SpanKind())
	assert.Equal(t, upstreamTraceID, serverSpan.SpanContext().TraceID().String())
	assert.Equal(t, upstreamSpanID, serverSpan.Parent().SpanID().String())
	assert.True(t, serverSpan.Parent().IsRemote())

	assert.Equal(t, upstreamTraceID, runSpan.SpanContext().TraceID().String())
	assert.Equal(t, serverSpan.SpanContext().SpanID(), runSpan.Parent().SpanID())
}

func TestOTelTracing_MarksServerErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	useGlobalTracing(t, tp)

	h := OTelTracing()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Simplification failed: bad mesh", http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/simplify", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

// contextSimplifier records the span context it was called with.
type contextSimplifier struct {
	seen trace.SpanContext
}

func (c *contextSimplifier) Simplify(ctx context.Context, input, output string, params models.Params) (*models.Artifact, error) {
	c.seen = trace.SpanContextFromContext(ctx)
	return writesOutput(input, output)
}

func TestOTelTracing_NoopProviderKeepsCallerTrace(t *testing.T) {
	useGlobalTracing(t, noop.NewTracerProvider())

	fake := &contextSimplifier{}
	h, _ := newTestHandler(t, fake)
	chain := Chain(http.HandlerFunc(h.HandleSimplify), RequestID(), OTelTracing())

	req := multipartRequest(t, &upload{filename: "bunny.obj", content: "v"}, nil)
	req.Header.Set("traceparent", upstreamParent)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, fake.seen.IsValid())
	assert.Equal(t, upstreamTraceID, fake.seen.TraceID().String())
}
