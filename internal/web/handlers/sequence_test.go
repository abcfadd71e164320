package handlers

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestSequenceAllocate(t *testing.T) {
	f := newHandlerFixture()
	h := NewSequenceHandler(f.alloc)

	rec := doJSON(t, h.Allocate, http.MethodPost, "/api/v1/sequence", AllocateRequest{
		Prefix: "TCH", Year: 2026,
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp AllocateResponse
	decodeResponse(t, rec, &resp)
	if resp.Code != "TCH20260001" {
		t.Errorf("expected TCH20260001, got %s", resp.Code)
	}

	rec = doJSON(t, h.Allocate, http.MethodPost, "/api/v1/sequence", AllocateRequest{
		Prefix: "TCH", Year: 2026,
	})
	decodeResponse(t, rec, &resp)
	if resp.Code != "TCH20260002" {
		t.Errorf("expected TCH20260002, got %s", resp.Code)
	}
}

func TestSequenceAllocate_BadInput(t *testing.T) {
	f := newHandlerFixture()
	h := NewSequenceHandler(f.alloc)

	rec := doJSON(t, h.Allocate, http.MethodPost, "/api/v1/sequence", AllocateRequest{Year: 2026})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing prefix: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, h.Allocate, http.MethodPost, "/api/v1/sequence", AllocateRequest{Prefix: "TCH", Year: 26})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("two-digit year: expected 400, got %d", rec.Code)
	}
}

func TestSequenceAllocate_StoreFailureIs500(t *testing.T) {
	f := newHandlerFixture()
	f.sequences.TryError = errors.New(`pq: relation "sequence_codes" does not exist`)
	h := NewSequenceHandler(f.alloc)

	rec := doJSON(t, h.Allocate, http.MethodPost, "/api/v1/sequence", AllocateRequest{
		Prefix: "TCH", Year: 2026,
	})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on a store failure, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "pq:") {
		t.Errorf("internal error text leaked to the client: %s", rec.Body.String())
	}
}

func TestSequenceAllocate_ExhaustionIs503(t *testing.T) {
	f := newHandlerFixture()
	// More injected collisions than the allocator will retry.
	f.sequences.CollisionsToInject = f.cfg.Allocator.MaxRetries + 2
	h := NewSequenceHandler(f.alloc)

	rec := doJSON(t, h.Allocate, http.MethodPost, "/api/v1/sequence", AllocateRequest{
		Prefix: "TCH", Year: 2026,
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 on exhaustion, got %d", rec.Code)
	}
}
