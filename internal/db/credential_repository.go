package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/hackgrid/internal/model"
)

// CredentialRepository reads access grants. Writes happen inside
// effect transactions only.
type CredentialRepository struct {
	db *pgxpool.Pool
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// AllValid returns every credential usable at now, for world cache
// warm-up. Expired grants stay in the table for forensics.
func (r *CredentialRepository) AllValid(ctx context.Context, now time.Time) ([]model.Credential, error) {
	rows, err := r.db.Query(ctx,
		`SELECT player_id, server_id, granted_at, expires_at
		 FROM credentials
		 WHERE expires_at IS NULL OR expires_at > $1`, now)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	defer rows.Close()

	var out []model.Credential
	for rows.Next() {
		var c model.Credential
		var expires *time.Time
		if err := rows.Scan(&c.PlayerID, &c.ServerID, &c.GrantedAt, &expires); err != nil {
			return nil, fmt.Errorf("scanning credential row: %w", err)
		}
		if expires != nil {
			c.ExpiresAt = *expires
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
