package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/tiltvault/vaultd/internal/domain"
)

// passthroughVerifier accepts a fixed signature and returns a canned payment.
type passthroughVerifier struct {
	payment domain.WebhookPayment
	err     error
}

func (v *passthroughVerifier) VerifyAndParse(signature string, _ []byte) (domain.WebhookPayment, error) {
	if signature != "good" {
		return domain.WebhookPayment{}, domain.ErrUnauthorized
	}
	if v.err != nil {
		return domain.WebhookPayment{}, v.err
	}
	return v.payment, nil
}

type memStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newMemStore(positions ...domain.Position) *memStore {
	s := &memStore{positions: make(map[string]domain.Position)}
	for _, p := range positions {
		s.positions[p.PaymentID] = p
	}
	return s
}

func (s *memStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.PaymentID] = pos
	return nil
}

func (s *memStore) GetByID(context.Context, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (s *memStore) GetByPaymentID(_ context.Context, paymentID string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[paymentID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memStore) update(paymentID string, fn func(*domain.Position)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[paymentID]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&p)
	s.positions[paymentID] = p
	return nil
}

func (s *memStore) RecordGatewayID(_ context.Context, paymentID, gatewayID string) error {
	return s.update(paymentID, func(p *domain.Position) {
		if p.GatewayPaymentID == "" {
			p.GatewayPaymentID = gatewayID
		}
	})
}

func (s *memStore) UpdateStatus(_ context.Context, paymentID string, status domain.PositionStatus, errMsg string) error {
	return s.update(paymentID, func(p *domain.Position) { p.Status = status; p.Error = errMsg })
}

func (s *memStore) RecordFunding(_ context.Context, paymentID, txHash string) error {
	return s.update(paymentID, func(p *domain.Position) { p.FundingTxHash = txHash })
}

func (s *memStore) RecordSupply(_ context.Context, paymentID, txHash string, amount float64) error {
	return s.update(paymentID, func(p *domain.Position) { p.SupplyTxHash = txHash; p.SupplyAmount = amount })
}

func (s *memStore) RecordOrder(_ context.Context, paymentID, txHash, orderKey string, size, entryPrice float64) error {
	return s.update(paymentID, func(p *domain.Position) { p.OrderTxHash = txHash })
}

func (s *memStore) MarkActive(_ context.Context, paymentID string) error {
	return s.update(paymentID, func(p *domain.Position) { p.Status = domain.PositionActive })
}

func (s *memStore) ListByStatus(context.Context, domain.PositionStatus, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type memClaims struct {
	mu       sync.Mutex
	claims   map[string]domain.Claimant
	mappings map[string]string
	infos    map[string]domain.PaymentInfo
}

func newMemClaims() *memClaims {
	return &memClaims{
		claims:   make(map[string]domain.Claimant),
		mappings: make(map[string]string),
		infos:    make(map[string]domain.PaymentInfo),
	}
}

func (c *memClaims) ClaimExecution(_ context.Context, paymentID string, claimant domain.Claimant) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.claims[paymentID]; ok {
		return false, nil
	}
	c.claims[paymentID] = claimant
	return true, nil
}

func (c *memClaims) GetClaim(_ context.Context, paymentID string) (domain.ExecutionClaim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	by, ok := c.claims[paymentID]
	if !ok {
		return domain.ExecutionClaim{}, domain.ErrNotFound
	}
	return domain.ExecutionClaim{PaymentID: paymentID, ClaimedBy: by}, nil
}

func (c *memClaims) RecordOutcome(context.Context, string, string) error { return nil }

func (c *memClaims) MapGatewayID(_ context.Context, gatewayID, paymentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.mappings[gatewayID]; !ok {
		c.mappings[gatewayID] = paymentID
	}
	return nil
}

func (c *memClaims) ResolveGatewayID(_ context.Context, gatewayID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.mappings[gatewayID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}

func (c *memClaims) PutPaymentInfo(_ context.Context, info domain.PaymentInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infos[info.PaymentID] = info
	return nil
}

func (c *memClaims) GetPaymentInfo(_ context.Context, paymentID string) (domain.PaymentInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.infos[paymentID]
	if !ok {
		return domain.PaymentInfo{}, domain.ErrNotFound
	}
	return info, nil
}

type countingExecutor struct {
	mu      sync.Mutex
	calls   int
	wallet  string
	amount  float64
	payment string
	err     error
}

func (e *countingExecutor) Execute(_ context.Context, wallet string, usd float64, paymentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.wallet = wallet
	e.amount = usd
	e.payment = paymentID
	return e.err
}

const (
	testWallet    = "0x2222222222222222222222222222222222222222"
	testPaymentID = "int_pay_1"
	testGatewayID = "sq_pay_1"
)

func completedPayment(note string) domain.WebhookPayment {
	return domain.WebhookPayment{
		GatewayID:   testGatewayID,
		Status:      domain.ChargeCompleted,
		AmountCents: 10350, // fee-inclusive gateway total
		Currency:    "USD",
		Note:        note,
	}
}

func pendingPosition() domain.Position {
	return domain.Position{
		ID:            "pos_1",
		PaymentID:     testPaymentID,
		WalletAddress: testWallet,
		Strategy:      domain.StrategyConservative,
		DepositAmount: 100,
		Status:        domain.PositionPending,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestReconciler(store *memStore, claims *memClaims, verifier domain.WebhookVerifier, exec *countingExecutor) *Reconciler {
	return NewReconciler(verifier, store, claims, nil, exec, testLogger())
}

func seededClaims() *memClaims {
	claims := newMemClaims()
	claims.mappings[testGatewayID] = testPaymentID
	claims.infos[testPaymentID] = domain.PaymentInfo{
		PaymentID:     testPaymentID,
		WalletAddress: testWallet,
		Strategy:      domain.StrategyConservative,
		AmountUSD:     100,
	}
	return claims
}

func TestHandleEventExecutes(t *testing.T) {
	store := newMemStore(pendingPosition())
	claims := seededClaims()
	exec := &countingExecutor{}
	r := newTestReconciler(store, claims, &passthroughVerifier{payment: completedPayment("")}, exec)

	if err := r.HandleEvent(context.Background(), "good", []byte(`{}`)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("executor calls = %d, want 1", exec.calls)
	}
	// Amount comes from the ledger, never from the webhook's 10350 cents.
	if exec.amount != 100 {
		t.Errorf("executed amount = %v, want 100", exec.amount)
	}
	if exec.wallet != testWallet {
		t.Errorf("wallet = %q", exec.wallet)
	}
	if claims.claims[testPaymentID] != domain.ClaimantWebhook {
		t.Errorf("claimant = %q, want webhook", claims.claims[testPaymentID])
	}
}

func TestHandleEventRejectsBadSignature(t *testing.T) {
	exec := &countingExecutor{}
	r := newTestReconciler(newMemStore(pendingPosition()), seededClaims(), &passthroughVerifier{payment: completedPayment("")}, exec)

	err := r.HandleEvent(context.Background(), "bad", []byte(`{}`))
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if exec.calls != 0 {
		t.Error("executor ran on unauthenticated event")
	}
}

func TestHandleEventDuplicateDeliveries(t *testing.T) {
	store := newMemStore(pendingPosition())
	claims := seededClaims()
	exec := &countingExecutor{}
	r := newTestReconciler(store, claims, &passthroughVerifier{payment: completedPayment("")}, exec)

	// The gateway delivers the same event M times; exactly one execution.
	for i := 0; i < 5; i++ {
		if err := r.HandleEvent(context.Background(), "good", []byte(`{}`)); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if exec.calls != 1 {
		t.Errorf("executor calls = %d, want exactly 1", exec.calls)
	}
}

func TestHandleEventLosesRaceToIntake(t *testing.T) {
	store := newMemStore(pendingPosition())
	claims := seededClaims()
	claims.claims[testPaymentID] = domain.ClaimantIntake
	exec := &countingExecutor{}
	r := newTestReconciler(store, claims, &passthroughVerifier{payment: completedPayment("")}, exec)

	if err := r.HandleEvent(context.Background(), "good", []byte(`{}`)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if exec.calls != 0 {
		t.Error("executor ran despite intake owning the claim")
	}

	// The auxiliary gateway-id record is still written.
	pos, _ := store.GetByPaymentID(context.Background(), testPaymentID)
	if pos.GatewayPaymentID != testGatewayID {
		t.Errorf("GatewayPaymentID = %q, want recorded", pos.GatewayPaymentID)
	}
}

func TestHandleEventNoteFallback(t *testing.T) {
	store := newMemStore(pendingPosition())
	claims := newMemClaims() // mapping write failed at intake time
	claims.infos[testPaymentID] = domain.PaymentInfo{
		PaymentID:     testPaymentID,
		WalletAddress: testWallet,
		AmountUSD:     100,
	}
	exec := &countingExecutor{}
	note := "payment_id:" + testPaymentID + " wallet:" + testWallet + " risk:conservative amount:100"
	r := newTestReconciler(store, claims, &passthroughVerifier{payment: completedPayment(note)}, exec)

	if err := r.HandleEvent(context.Background(), "good", []byte(`{}`)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("executor calls = %d, want 1 via note fallback", exec.calls)
	}
	// The mapping is repaired for future deliveries.
	if mapped, _ := claims.ResolveGatewayID(context.Background(), testGatewayID); mapped != testPaymentID {
		t.Errorf("mapping = %q, want repaired to %q", mapped, testPaymentID)
	}
}

func TestHandleEventUnresolvableIsAcknowledged(t *testing.T) {
	exec := &countingExecutor{}
	r := newTestReconciler(newMemStore(), newMemClaims(), &passthroughVerifier{payment: completedPayment("no useful note")}, exec)

	if err := r.HandleEvent(context.Background(), "good", []byte(`{}`)); err != nil {
		t.Errorf("unresolvable event must be acknowledged, got %v", err)
	}
	if exec.calls != 0 {
		t.Error("executor ran for unresolvable event")
	}
}

func TestHandleEventIgnoresNonTerminalStatus(t *testing.T) {
	for _, status := range []domain.ChargeStatus{domain.ChargePending, domain.ChargeFailed, domain.ChargeCanceled} {
		payment := completedPayment("")
		payment.Status = status
		exec := &countingExecutor{}
		r := newTestReconciler(newMemStore(pendingPosition()), seededClaims(), &passthroughVerifier{payment: payment}, exec)

		if err := r.HandleEvent(context.Background(), "good", []byte(`{}`)); err != nil {
			t.Errorf("status %s: %v", status, err)
		}
		if exec.calls != 0 {
			t.Errorf("status %s: executor ran", status)
		}
	}
}

func TestHandleEventExecutionFailureStillAcknowledged(t *testing.T) {
	exec := &countingExecutor{err: errors.New("chain down")}
	r := newTestReconciler(newMemStore(pendingPosition()), seededClaims(), &passthroughVerifier{payment: completedPayment("")}, exec)

	if err := r.HandleEvent(context.Background(), "good", []byte(`{}`)); err != nil {
		t.Errorf("failed execution must still acknowledge, got %v", err)
	}
	if exec.calls != 1 {
		t.Errorf("executor calls = %d", exec.calls)
	}
}

func TestHandleEventNonPaymentEvent(t *testing.T) {
	exec := &countingExecutor{}
	r := newTestReconciler(newMemStore(), newMemClaims(), &passthroughVerifier{err: domain.ErrNotFound}, exec)

	if err := r.HandleEvent(context.Background(), "good", []byte(`{}`)); err != nil {
		t.Errorf("non-payment event must be acknowledged, got %v", err)
	}
}
