package http

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMapResolve(t *testing.T) {
	errMissing := errors.New("missing")
	errBusy := errors.New("busy")
	m := new(ErrorMap).
		Map(errMissing, KindNotFound, "thing not found").
		Map(errBusy, KindUnavailable, "try later")

	preset := NewError(KindConflict, "already %s", "done")
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"wrapped sentinel", fmt.Errorf("load: %w", errMissing), http.StatusNotFound, "ERR_NOT_FOUND"},
		{"second rule", errBusy, http.StatusServiceUnavailable, "ERR_UNAVAILABLE"},
		{"app error passes through", fmt.Errorf("ctx: %w", preset), http.StatusConflict, "ERR_CONFLICT"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "ERR_INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Resolve(tt.err)
			if got.Status != tt.status || got.Code != tt.code {
				t.Fatalf("got %d %s, want %d %s", got.Status, got.Code, tt.status, tt.code)
			}
		})
	}

	if got := m.Resolve(errMissing); !errors.Is(got, errMissing) {
		t.Fatalf("expected resolved error to unwrap to its cause")
	}
	if preset.Message != "already done" {
		t.Fatalf("unexpected formatted message %q", preset.Message)
	}
}

func TestErrorMapResolveKeepsLiteralMessage(t *testing.T) {
	errLimit := errors.New("limit")
	m := new(ErrorMap).Map(errLimit, KindBadRequest, "limit must be under 100%")
	got := m.Resolve(fmt.Errorf("parse: %w", errLimit))
	if got.Message != "limit must be under 100%" {
		t.Fatalf("expected literal message, got %q", got.Message)
	}
}

func TestKindOutOfRangeIsInternal(t *testing.T) {
	if k := Kind(200); k.Status() != http.StatusInternalServerError || k.Code() != "ERR_INTERNAL" {
		t.Fatalf("expected internal fallback, got %d %s", k.Status(), k.Code())
	}
}
