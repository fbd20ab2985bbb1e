package trace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
)

func TestGenerateTraceID(t *testing.T) {
	id := generateTraceID()
	if len(id) != 32 {
		t.Errorf("trace ID should be 32 chars, got %d", len(id))
	}
}

func TestGenerateSpanID(t *testing.T) {
	id := generateSpanID()
	if len(id) != 16 {
		t.Errorf("span ID should be 16 chars, got %d", len(id))
	}
}

func TestIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateTraceID()
		if seen[id] {
			t.Error("generated duplicate trace ID")
		}
		seen[id] = true
	}
}

func TestNewContext(t *testing.T) {
	ctx := New()
	if len(ctx.TraceID) != 32 {
		t.Errorf("trace ID should be 32 chars, got %d", len(ctx.TraceID))
	}
	if len(ctx.SpanID) != 16 {
		t.Errorf("span ID should be 16 chars, got %d", len(ctx.SpanID))
	}
	if ctx.ParentSpanID != "" {
		t.Error("new context should not have parent span ID")
	}
}

func TestNewChild(t *testing.T) {
	parent := New()
	child := NewChild(parent)

	if child.TraceID != parent.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.SpanID == parent.SpanID {
		t.Error("child should have new span ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child's parent should be parent's span ID")
	}
}

func TestContextPropagation(t *testing.T) {
	tc := New()
	ctx := WithContext(context.Background(), tc)

	extracted, ok := FromContext(ctx)
	if !ok {
		t.Fatal("should extract trace context")
	}
	if extracted.TraceID != tc.TraceID {
		t.Error("extracted trace ID mismatch")
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("should not find trace context in empty context")
	}
}

func TestEnsureContext(t *testing.T) {
	// Empty context should create new trace
	ctx, tc := EnsureContext(context.Background())
	if len(tc.TraceID) != 32 {
		t.Error("should create trace ID")
	}

	// Context with trace should return existing
	ctx2, tc2 := EnsureContext(ctx)
	if tc2.TraceID != tc.TraceID {
		t.Error("should return existing trace")
	}
	_ = ctx2
}

func TestIncoming(t *testing.T) {
	tc := Incoming("trace123", "span456")

	if tc.TraceID != "trace123" {
		t.Error("trace ID mismatch")
	}
	if tc.ParentSpanID != "span456" {
		t.Error("parent span should be caller's span")
	}
	if len(tc.SpanID) != 16 {
		t.Error("should generate new span ID")
	}
}

func TestIncomingGeneratesTrace(t *testing.T) {
	tc := Incoming("", "ignored")
	if len(tc.TraceID) != 32 {
		t.Error("should generate trace ID if missing")
	}
	if tc.ParentSpanID != "" {
		t.Error("a fresh trace has no parent")
	}
}

func TestStartSpan(t *testing.T) {
	_, span := StartSpan(context.Background(), "recognize")

	if span.Name != "recognize" {
		t.Error("span name mismatch")
	}
	if span.StartTime.IsZero() {
		t.Error("span should have start time")
	}
	if span.Duration() != 0 {
		t.Error("open span should report zero duration")
	}

	span.SetAttr("generation", uint64(7))
	time.Sleep(time.Millisecond)
	span.End()

	if span.Duration() <= 0 {
		t.Error("span should have positive duration")
	}

	found := false
	for _, a := range span.LogValue().Group() {
		if a.Key == "generation" && a.Value.Any() == uint64(7) {
			found = true
		}
	}
	if !found {
		t.Error("LogValue should carry span attributes")
	}
}

func TestSpanNested(t *testing.T) {
	ctx := context.Background()
	ctx, parent := StartSpan(ctx, "parent")
	ctx, child := StartSpan(ctx, "child")

	if child.Ctx.TraceID != parent.Ctx.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.Ctx.ParentSpanID != parent.Ctx.SpanID {
		t.Error("child's parent should be parent's span")
	}
	if tc, _ := FromContext(ctx); tc.SpanID != child.Ctx.SpanID {
		t.Error("context should carry the innermost span")
	}
}

func TestLogger(t *testing.T) {
	tc := New()
	ctx := WithContext(context.Background(), tc)
	log := Logger(ctx)

	// Just verify it doesn't panic and returns a logger
	log.Info("test message")
}

func TestMiddlewareEchoesTraceID(t *testing.T) {
	var seen Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set(TraceIDKey, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen.TraceID != "abc" {
		t.Errorf("handler trace = %q, want abc", seen.TraceID)
	}
	if got := rec.Header().Get(TraceIDKey); got != "abc" {
		t.Errorf("response header = %q, want abc", got)
	}
}

func TestExtractFromJSON(t *testing.T) {
	tc, ok := ExtractFromJSON([]byte(`{"type":"pause","trace_id":"t1"}`))
	if !ok || tc.TraceID != "t1" {
		t.Errorf("ExtractFromJSON = (%+v, %v)", tc, ok)
	}
	if _, ok := ExtractFromJSON([]byte(`{"type":"pause"}`)); ok {
		t.Error("missing trace_id should report false")
	}
}

func TestToStatus(t *testing.T) {
	if toStatus(nil) != nil {
		t.Error("nil error should stay nil")
	}

	err := toStatus(fmt.Errorf("wrapped: %w", apperrors.New(apperrors.CodeResourceUnavailable, "engine not ready")))
	st, _ := status.FromError(err)
	if st.Code() != codes.Unavailable {
		t.Errorf("code = %v, want Unavailable", st.Code())
	}

	st, _ = status.FromError(toStatus(errors.New("plain")))
	if st.Code() != codes.Unknown {
		t.Errorf("code = %v, want Unknown", st.Code())
	}
}
