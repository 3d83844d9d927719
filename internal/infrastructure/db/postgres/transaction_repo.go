package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arkade-os/escrowd/internal/core/domain"
)

const (
	txColumns = `hash, kind, from_address, to_address, amount, claim_id, status, created_at,
		updated_at`

	insertTx = `INSERT INTO tx_record (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	selectTxs        = `SELECT ` + txColumns + ` FROM tx_record`
	selectTxByHash   = selectTxs + ` WHERE hash = $1`
	selectPendingTxs = selectTxs + ` WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	selectTxsByClaim = selectTxs + ` WHERE claim_id = $1 ORDER BY created_at ASC`

	updateTxStatus = `UPDATE tx_record SET status = $1, updated_at = $2
		WHERE hash = $3 AND status = $4`
)

type transactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(config ...interface{}) (domain.TransactionRepository, error) {
	db, err := configDb(config...)
	if err != nil {
		return nil, fmt.Errorf("cannot open transaction repository: %s", err)
	}
	return &transactionRepository{db}, nil
}

func (r *transactionRepository) Add(ctx context.Context, tx domain.TransactionRecord) error {
	if _, err := r.db.ExecContext(
		ctx, insertTx,
		tx.Hash, tx.Kind, tx.From, tx.To, tx.Amount, tx.ClaimId, tx.Status, tx.CreatedAt,
		tx.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to add transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) Get(
	ctx context.Context, hash string,
) (*domain.TransactionRecord, error) {
	tx, err := scanTx(r.db.QueryRowContext(ctx, selectTxByHash, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (r *transactionRepository) GetPending(
	ctx context.Context, limit int,
) ([]domain.TransactionRecord, error) {
	return r.getMany(ctx, selectPendingTxs, domain.TxPending, limitArg(limit))
}

func (r *transactionRepository) GetByClaimId(
	ctx context.Context, claimId string,
) ([]domain.TransactionRecord, error) {
	return r.getMany(ctx, selectTxsByClaim, claimId)
}

func (r *transactionRepository) UpdateStatus(
	ctx context.Context, hash string, status domain.TxStatus, updatedAt int64,
) (bool, error) {
	res, err := r.db.ExecContext(ctx, updateTxStatus, status, updatedAt, hash, domain.TxPending)
	if err != nil {
		return false, fmt.Errorf("failed to update transaction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update transaction: %w", err)
	}
	if rows > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, hash); err != nil {
		return false, err
	}
	return false, nil
}

func (r *transactionRepository) Close() {
	_ = r.db.Close()
}

func (r *transactionRepository) getMany(
	ctx context.Context, query string, args ...any,
) ([]domain.TransactionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	// nolint:errcheck
	defer rows.Close()

	txs := make([]domain.TransactionRecord, 0)
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

func scanTx(row rowScanner) (*domain.TransactionRecord, error) {
	var tx domain.TransactionRecord
	if err := row.Scan(
		&tx.Hash, &tx.Kind, &tx.From, &tx.To, &tx.Amount, &tx.ClaimId, &tx.Status,
		&tx.CreatedAt, &tx.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &tx, nil
}
