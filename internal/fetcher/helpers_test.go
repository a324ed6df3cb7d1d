package fetcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"keeprates/internal/rates"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeRenderer struct {
	html  string
	err   error
	calls atomic.Int32
	last  RenderRequest
}

func (f *fakeRenderer) Render(_ context.Context, req RenderRequest) (string, error) {
	f.calls.Add(1)
	f.last = req
	return f.html, f.err
}

func mustDecimal(t *testing.T, got decimal.NullDecimal, want string) {
	t.Helper()
	if !got.Valid {
		t.Fatalf("期望 %s, 实际为空", want)
	}
	if !got.Decimal.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("期望 %s, 实际 %s", want, got.Decimal.String())
	}
}

func requireExtractionError(t *testing.T, err error) {
	t.Helper()
	var extractErr *rates.ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("期望 ExtractionError, 实际 %v", err)
	}
}
