package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/hackgrid/internal/model"
)

// BankRepository reads accounts and transaction history. Balance
// mutations happen inside effect transactions only.
type BankRepository struct {
	db *pgxpool.Pool
}

// NewBankRepository creates a new BankRepository.
func NewBankRepository(db *pgxpool.Pool) *BankRepository {
	return &BankRepository{db: db}
}

const accountCols = `id, owner_id, bank_id, balance, status, overdraft, opened_at`

func scanAccount(row pgx.Row) (*model.BankAccount, error) {
	var a model.BankAccount
	var status string
	err := row.Scan(&a.ID, &a.OwnerID, &a.BankID, &a.Balance, &status, &a.Overdraft, &a.OpenedAt)
	if err != nil {
		return nil, err
	}
	a.Status = model.AccountStatus(status)
	return &a, nil
}

// GetByID returns the account with the given id, nil when absent.
func (r *BankRepository) GetByID(ctx context.Context, id int64) (*model.BankAccount, error) {
	a, err := scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountCols+` FROM bank_accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying bank account %d: %w", id, err)
	}
	return a, nil
}

// ByOwner returns the player's accounts.
func (r *BankRepository) ByOwner(ctx context.Context, ownerID int64) ([]model.BankAccount, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+accountCols+` FROM bank_accounts WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading accounts of player %d: %w", ownerID, err)
	}
	defer rows.Close()

	var out []model.BankAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account row: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Open creates an account for a player and fills in its id.
func (r *BankRepository) Open(ctx context.Context, a *model.BankAccount) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO bank_accounts (owner_id, bank_id, balance, status, overdraft, opened_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		a.OwnerID, a.BankID, a.Balance, string(a.Status), a.Overdraft, a.OpenedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("opening account for player %d: %w", a.OwnerID, err)
	}
	return nil
}

// History returns the account's most recent transaction legs.
func (r *BankRepository) History(ctx context.Context, accountID int64, limit int) ([]model.BankTransaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, transfer_id, account_id, amount, fee, pid, created_at
		 FROM bank_transactions
		 WHERE account_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading transactions of account %d: %w", accountID, err)
	}
	defer rows.Close()

	var out []model.BankTransaction
	for rows.Next() {
		var t model.BankTransaction
		err := rows.Scan(&t.ID, &t.TransferID, &t.AccountID, &t.Amount, &t.Fee, &t.PID, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
