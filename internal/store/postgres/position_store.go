package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tiltvault/vaultd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. It is the
// durable record: the claim ledger decides who executes, this table records
// what actually happened.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionColumns = `
	id, payment_id, gateway_payment_id, wallet_address, user_email, strategy,
	deposit_amount, funding_tx_hash, supply_tx_hash, supply_amount,
	order_tx_hash, order_key, order_size, entry_price,
	status, error, created_at, executed_at, closed_at`

// Create inserts a new position row. A duplicate payment id returns
// domain.ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, payment_id, gateway_payment_id, wallet_address, user_email,
			strategy, deposit_amount, status, created_at
		) VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, $8, $9)`

	createdAt := pos.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		pos.ID, pos.PaymentID, pos.GatewayPaymentID, pos.WalletAddress,
		pos.UserEmail, string(pos.Strategy), pos.DepositAmount,
		string(pos.Status), createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create position %s: %w", pos.PaymentID, err)
	}
	return nil
}

// GetByID returns a position by its internal id.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT` + positionColumns + ` FROM positions WHERE id = $1`
	return s.scanOne(ctx, query, id)
}

// GetByPaymentID returns a position by the payment id that created it.
func (s *PositionStore) GetByPaymentID(ctx context.Context, paymentID string) (domain.Position, error) {
	query := `SELECT` + positionColumns + ` FROM positions WHERE payment_id = $1`
	return s.scanOne(ctx, query, paymentID)
}

// RecordGatewayID stores the gateway-assigned payment id. The first write
// wins; a repeat write with the same value matches zero rows and is a no-op.
func (s *PositionStore) RecordGatewayID(ctx context.Context, paymentID, gatewayID string) error {
	const query = `
		UPDATE positions SET gateway_payment_id = $2
		WHERE payment_id = $1 AND (gateway_payment_id IS NULL OR gateway_payment_id = $2)`
	if _, err := s.pool.Exec(ctx, query, paymentID, gatewayID); err != nil {
		return fmt.Errorf("postgres: record gateway id %s: %w", paymentID, err)
	}
	return nil
}

// UpdateStatus sets the position status and, when errMsg is non-empty, the
// error column.
func (s *PositionStore) UpdateStatus(ctx context.Context, paymentID string, status domain.PositionStatus, errMsg string) error {
	const query = `
		UPDATE positions SET status = $2, error = NULLIF($3, '')
		WHERE payment_id = $1`
	tag, err := s.pool.Exec(ctx, query, paymentID, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("postgres: update status %s: %w", paymentID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordFunding stores the wallet-funding transaction hash.
func (s *PositionStore) RecordFunding(ctx context.Context, paymentID, txHash string) error {
	const query = `UPDATE positions SET funding_tx_hash = $2 WHERE payment_id = $1`
	return s.exec(ctx, query, "record funding", paymentID, txHash)
}

// RecordSupply stores the lending-supply transaction hash and amount.
func (s *PositionStore) RecordSupply(ctx context.Context, paymentID, txHash string, amount float64) error {
	const query = `UPDATE positions SET supply_tx_hash = $2, supply_amount = $3 WHERE payment_id = $1`
	return s.exec(ctx, query, "record supply", paymentID, txHash, amount)
}

// RecordOrder stores the perp order transaction hash, key, size, and entry
// price.
func (s *PositionStore) RecordOrder(ctx context.Context, paymentID, txHash, orderKey string, size, entryPrice float64) error {
	const query = `
		UPDATE positions SET order_tx_hash = $2, order_key = NULLIF($3, ''),
			order_size = $4, entry_price = $5
		WHERE payment_id = $1`
	return s.exec(ctx, query, "record order", paymentID, txHash, orderKey, size, entryPrice)
}

// MarkActive transitions the position to active and stamps executed_at.
func (s *PositionStore) MarkActive(ctx context.Context, paymentID string) error {
	const query = `
		UPDATE positions SET status = $2, error = NULL, executed_at = NOW()
		WHERE payment_id = $1`
	return s.exec(ctx, query, "mark active", paymentID, string(domain.PositionActive))
}

// ListByStatus returns positions in the given status, newest first.
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT` + positionColumns + ` FROM positions WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

func (s *PositionStore) exec(ctx context.Context, query, op, paymentID string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, append([]any{paymentID}, args...)...)
	if err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, paymentID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PositionStore) scanOne(ctx context.Context, query string, arg any) (domain.Position, error) {
	row := s.pool.QueryRow(ctx, query, arg)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, err
	}
	return pos, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var (
		pos         domain.Position
		gatewayID   *string
		userEmail   *string
		fundingTx   *string
		supplyTx    *string
		supplyAmt   *float64
		orderTx     *string
		orderKey    *string
		orderSize   *float64
		entryPrice  *float64
		errMsg      *string
		strategyStr string
		statusStr   string
	)

	err := row.Scan(
		&pos.ID, &pos.PaymentID, &gatewayID, &pos.WalletAddress, &userEmail,
		&strategyStr, &pos.DepositAmount, &fundingTx, &supplyTx, &supplyAmt,
		&orderTx, &orderKey, &orderSize, &entryPrice,
		&statusStr, &errMsg, &pos.CreatedAt, &pos.ExecutedAt, &pos.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, err
		}
		return domain.Position{}, fmt.Errorf("postgres: scan position: %w", err)
	}

	pos.Strategy = domain.StrategyType(strategyStr)
	pos.Status = domain.PositionStatus(statusStr)
	if gatewayID != nil {
		pos.GatewayPaymentID = *gatewayID
	}
	if userEmail != nil {
		pos.UserEmail = *userEmail
	}
	if fundingTx != nil {
		pos.FundingTxHash = *fundingTx
	}
	if supplyTx != nil {
		pos.SupplyTxHash = *supplyTx
	}
	if supplyAmt != nil {
		pos.SupplyAmount = *supplyAmt
	}
	if orderTx != nil {
		pos.OrderTxHash = *orderTx
	}
	if orderKey != nil {
		pos.OrderKey = *orderKey
	}
	if orderSize != nil {
		pos.OrderSize = *orderSize
	}
	if entryPrice != nil {
		pos.EntryPrice = *entryPrice
	}
	if errMsg != nil {
		pos.Error = *errMsg
	}

	return pos, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
