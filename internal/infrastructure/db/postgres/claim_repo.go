package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arkade-os/escrowd/internal/core/domain"
)

const (
	claimColumns = `id, sender_phone, sender_address, recipient_phone, token_digest,
		custody_wallet_handle, custody_address, amount, status, settlement_kind, claimer_phone,
		claimer_address, hold_tx_ref, settle_tx_ref, gas_cost, settled_amount, error_note,
		created_at, expires_at, updated_at, claimed_at, refunded_at`

	insertClaim = `INSERT INTO claim (` + claimColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22)`

	selectClaims = `SELECT ` + claimColumns + ` FROM claim`

	selectClaimById          = selectClaims + ` WHERE id = $1`
	selectClaimByTokenDigest = selectClaims + ` WHERE token_digest = $1`
	selectClaimsByRecipient  = selectClaims + ` WHERE recipient_phone = $1 ORDER BY created_at DESC`
	selectClaimsBySender     = selectClaims + ` WHERE sender_phone = $1 ORDER BY created_at DESC`
	selectExpiredPending     = selectClaims +
		` WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at ASC LIMIT $3`
	selectSettlingBefore = selectClaims +
		` WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC`

	swapClaim = `UPDATE claim SET status = $1, settlement_kind = $2, claimer_phone = $3,
		claimer_address = $4, settle_tx_ref = $5, gas_cost = $6, settled_amount = $7, error_note = $8,
		updated_at = $9, claimed_at = $10, refunded_at = $11
		WHERE id = $12 AND status = $13`

	claimExists = `SELECT 1 FROM claim WHERE id = $1`
)

type claimRepository struct {
	db *sql.DB
}

func NewClaimRepository(config ...interface{}) (domain.ClaimRepository, error) {
	db, err := configDb(config...)
	if err != nil {
		return nil, fmt.Errorf("cannot open claim repository: %s", err)
	}
	return &claimRepository{db}, nil
}

func (r *claimRepository) Add(ctx context.Context, c domain.Claim) error {
	if _, err := r.db.ExecContext(
		ctx, insertClaim,
		c.Id, c.SenderPhone, c.SenderAddress, c.RecipientPhone, c.TokenDigest,
		c.CustodyWalletHandle, c.CustodyAddress, c.Amount, c.Status, c.SettlementKind,
		c.ClaimerPhone, c.ClaimerAddress, c.HoldTxRef, c.SettleTxRef, c.GasCost,
		c.SettledAmount, c.ErrorNote, c.CreatedAt, c.ExpiresAt, c.UpdatedAt, c.ClaimedAt,
		c.RefundedAt,
	); err != nil {
		return fmt.Errorf("failed to add claim: %w", err)
	}
	return nil
}

func (r *claimRepository) Get(ctx context.Context, id string) (*domain.Claim, error) {
	return r.getOne(ctx, selectClaimById, id)
}

func (r *claimRepository) GetByTokenDigest(
	ctx context.Context, digest string,
) (*domain.Claim, error) {
	return r.getOne(ctx, selectClaimByTokenDigest, digest)
}

func (r *claimRepository) GetByRecipientPhone(
	ctx context.Context, phone string,
) ([]domain.Claim, error) {
	return r.getMany(ctx, selectClaimsByRecipient, phone)
}

func (r *claimRepository) GetBySenderPhone(
	ctx context.Context, phone string,
) ([]domain.Claim, error) {
	return r.getMany(ctx, selectClaimsBySender, phone)
}

func (r *claimRepository) GetExpiredPending(
	ctx context.Context, now int64, limit int,
) ([]domain.Claim, error) {
	return r.getMany(ctx, selectExpiredPending, domain.ClaimPending, now, limitArg(limit))
}

func (r *claimRepository) GetSettlingBefore(
	ctx context.Context, before int64,
) ([]domain.Claim, error) {
	return r.getMany(ctx, selectSettlingBefore, domain.ClaimSettling, before)
}

func (r *claimRepository) CompareAndSwap(
	ctx context.Context, expected domain.ClaimStatus, c domain.Claim,
) (bool, error) {
	res, err := r.db.ExecContext(
		ctx, swapClaim,
		c.Status, c.SettlementKind, c.ClaimerPhone, c.ClaimerAddress, c.SettleTxRef, c.GasCost,
		c.SettledAmount, c.ErrorNote, c.UpdatedAt, c.ClaimedAt, c.RefundedAt,
		c.Id, expected,
	)
	if err != nil {
		return false, fmt.Errorf("failed to swap claim: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to swap claim: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	var exists int
	if err := r.db.QueryRowContext(ctx, claimExists, c.Id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrClaimNotFound
		}
		return false, fmt.Errorf("failed to get claim: %w", err)
	}
	return false, nil
}

func (r *claimRepository) Close() {
	_ = r.db.Close()
}

func (r *claimRepository) getOne(
	ctx context.Context, query string, args ...any,
) (*domain.Claim, error) {
	claim, err := scanClaim(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrClaimNotFound
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return claim, nil
}

func (r *claimRepository) getMany(
	ctx context.Context, query string, args ...any,
) ([]domain.Claim, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	// nolint:errcheck
	defer rows.Close()

	claims := make([]domain.Claim, 0)
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, *claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	return claims, nil
}

func scanClaim(row rowScanner) (*domain.Claim, error) {
	var c domain.Claim
	if err := row.Scan(
		&c.Id, &c.SenderPhone, &c.SenderAddress, &c.RecipientPhone, &c.TokenDigest,
		&c.CustodyWalletHandle, &c.CustodyAddress, &c.Amount, &c.Status, &c.SettlementKind,
		&c.ClaimerPhone, &c.ClaimerAddress, &c.HoldTxRef, &c.SettleTxRef, &c.GasCost,
		&c.SettledAmount, &c.ErrorNote, &c.CreatedAt, &c.ExpiresAt, &c.UpdatedAt, &c.ClaimedAt,
		&c.RefundedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
