package transport

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/cepheid-ml/cepheid/pkg/api"
	"github.com/cepheid-ml/cepheid/pkg/engine"
	"github.com/cepheid-ml/cepheid/pkg/timeseries"
)

func TestChainAppliesMiddlewareInOrder(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Extractor) Extractor {
			return ExtractorFunc(func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
				order = append(order, name+":before")
				out, err := next.Extract(ctx, scriptSrc, inputs)
				order = append(order, name+":after")
				return out, err
			})
		}
	}

	handler := ExtractorFunc(func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
		order = append(order, "handler")
		return &engine.Outcome{Mode: engine.ModeLocal}, nil
	})

	chain := Chain(mw("first"), mw("second"), mw("third"))
	wrapped := chain(handler)

	wrapped.Extract(context.Background(), "", nil)

	expected := []string{
		"first:before", "second:before", "third:before",
		"handler",
		"third:after", "second:after", "first:after",
	}

	if len(order) != len(expected) {
		t.Fatalf("execution order length = %d, want %d: %v", len(order), len(expected), order)
	}
	for i, got := range order {
		if got != expected[i] {
			t.Errorf("order[%d] = %q, want %q", i, got, expected[i])
		}
	}
}

func TestRecoveryCatchesPanic(t *testing.T) {
	handler := ExtractorFunc(func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
		panic("test panic")
	})

	wrapped := Recovery()(handler)
	out, err := wrapped.Extract(context.Background(), "", nil)

	if out != nil {
		t.Errorf("outcome after panic = %v, want nil", out)
	}
	if err == nil {
		t.Fatal("expected error after panic, got nil")
	}

	apiErr, ok := err.(*api.APIError)
	if !ok {
		t.Fatalf("expected *api.APIError, got %T: %v", err, err)
	}
	if apiErr.Type != api.ErrorTypeServerError {
		t.Errorf("error type = %q, want %q", apiErr.Type, api.ErrorTypeServerError)
	}
	if !strings.Contains(apiErr.Message, "test panic") {
		t.Errorf("error message = %q, should contain %q", apiErr.Message, "test panic")
	}
}

func TestRecoveryPassesThroughNormalExecution(t *testing.T) {
	handler := ExtractorFunc(func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
		return &engine.Outcome{Mode: engine.ModeLocal}, nil
	})

	wrapped := Recovery()(handler)
	out, err := wrapped.Extract(context.Background(), "", nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil || out.Mode != engine.ModeLocal {
		t.Errorf("outcome = %v, want mode %q", out, engine.ModeLocal)
	}
}

func TestRequestIDGeneratesNewID(t *testing.T) {
	var capturedID string

	handler := ExtractorFunc(func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
		capturedID = RequestIDFromContext(ctx)
		return nil, nil
	})

	wrapped := RequestID()(handler)
	wrapped.Extract(context.Background(), "", nil)

	if capturedID == "" {
		t.Error("expected a generated request ID, got empty string")
	}
	if len(capturedID) != 32 { // 16 bytes = 32 hex chars
		t.Errorf("request ID length = %d, want 32 (hex encoded)", len(capturedID))
	}
}

func TestRequestIDPropagatesExisting(t *testing.T) {
	var capturedID string

	handler := ExtractorFunc(func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
		capturedID = RequestIDFromContext(ctx)
		return nil, nil
	})

	ctx := ContextWithRequestID(context.Background(), "existing-id-123")
	wrapped := RequestID()(handler)
	wrapped.Extract(ctx, "", nil)

	if capturedID != "existing-id-123" {
		t.Errorf("request ID = %q, want %q", capturedID, "existing-id-123")
	}
}

func TestRequestIDUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	handler := ExtractorFunc(func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
		ids[RequestIDFromContext(ctx)] = true
		return nil, nil
	})

	wrapped := RequestID()(handler)
	for i := 0; i < 100; i++ {
		wrapped.Extract(context.Background(), "", nil)
	}

	if len(ids) != 100 {
		t.Errorf("expected 100 unique IDs, got %d", len(ids))
	}
}

func TestLoggingEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := ExtractorFunc(func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
		return &engine.Outcome{Mode: engine.ModeSandboxed}, nil
	})

	ctx := ContextWithRequestID(context.Background(), "req-log-test")
	wrapped := Logging(logger)(handler)
	wrapped.Extract(ctx, "@A(provides=['A'])", make([]timeseries.Input, 2))

	output := buf.String()
	for _, expected := range []string{"request_id=req-log-test", "datasets=2", "mode=sandboxed", "extraction completed"} {
		if !strings.Contains(output, expected) {
			t.Errorf("log output missing %q in:\n%s", expected, output)
		}
	}
}

func TestLoggingEmitsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := ExtractorFunc(func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
		return nil, api.NewServerError("test failure")
	})

	wrapped := Logging(logger)(handler)
	wrapped.Extract(context.Background(), "", nil)

	output := buf.String()
	if !strings.Contains(output, "extraction failed") {
		t.Errorf("log output missing 'extraction failed' in:\n%s", output)
	}
	if !strings.Contains(output, "test failure") {
		t.Errorf("log output missing error message in:\n%s", output)
	}
}
