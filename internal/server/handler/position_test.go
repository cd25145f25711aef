package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tiltvault/vaultd/internal/domain"
)

type stubPositionStore struct {
	positions map[string]domain.Position
	listed    []domain.Position
	gotStatus domain.PositionStatus
	gotOpts   domain.ListOpts
}

func (s *stubPositionStore) Create(context.Context, domain.Position) error { return nil }

func (s *stubPositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *stubPositionStore) GetByPaymentID(context.Context, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (s *stubPositionStore) RecordGatewayID(context.Context, string, string) error { return nil }

func (s *stubPositionStore) UpdateStatus(context.Context, string, domain.PositionStatus, string) error {
	return nil
}

func (s *stubPositionStore) RecordFunding(context.Context, string, string) error { return nil }

func (s *stubPositionStore) RecordSupply(context.Context, string, string, float64) error { return nil }

func (s *stubPositionStore) RecordOrder(context.Context, string, string, string, float64, float64) error {
	return nil
}

func (s *stubPositionStore) MarkActive(context.Context, string) error { return nil }

func (s *stubPositionStore) ListByStatus(_ context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	s.gotStatus = status
	s.gotOpts = opts
	return s.listed, nil
}

func TestGetPosition(t *testing.T) {
	store := &stubPositionStore{positions: map[string]domain.Position{
		"pos-1": {
			ID:            "pos-1",
			PaymentID:     "pay-1",
			WalletAddress: "0x1111111111111111111111111111111111111111",
			Strategy:      domain.StrategyConservative,
			DepositAmount: 100,
			Status:        domain.PositionActive,
			CreatedAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
	}}
	h := NewPositionHandler(store, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions/{id}", h.GetPosition)

	req := httptest.NewRequest(http.MethodGet, "/api/positions/pos-1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp positionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PaymentID != "pay-1" || resp.Status != "active" || resp.DepositAmount != 100 {
		t.Errorf("response = %+v", resp)
	}
}

func TestGetPositionNotFound(t *testing.T) {
	h := NewPositionHandler(&stubPositionStore{}, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions/{id}", h.GetPosition)

	req := httptest.NewRequest(http.MethodGet, "/api/positions/nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListPositionsStatusFilter(t *testing.T) {
	store := &stubPositionStore{listed: []domain.Position{
		{ID: "a", Status: domain.PositionFailed, CreatedAt: time.Now()},
	}}
	h := NewPositionHandler(store, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/positions?status=failed&limit=10", nil)
	rec := httptest.NewRecorder()
	h.ListPositions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.gotStatus != domain.PositionFailed {
		t.Errorf("status filter = %q", store.gotStatus)
	}
	if store.gotOpts.Limit != 10 {
		t.Errorf("limit = %d, want 10", store.gotOpts.Limit)
	}
}

func TestListPositionsRejectsUnknownStatus(t *testing.T) {
	h := NewPositionHandler(&stubPositionStore{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/positions?status=exploded", nil)
	rec := httptest.NewRecorder()
	h.ListPositions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
