package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/hackgrid/internal/model"
)

// PlayerRepository manages player accounts.
type PlayerRepository struct {
	db *pgxpool.Pool
}

// NewPlayerRepository creates a new PlayerRepository.
func NewPlayerRepository(db *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{db: db}
}

const playerCols = `id, login, password_hash, wallet, crypto, experience,
	reputation, premium, banned, clan_id, home_server_id, created_at, last_seen`

func scanPlayer(row pgx.Row) (*model.Player, error) {
	var p model.Player
	var lastSeen *time.Time
	err := row.Scan(&p.ID, &p.Login, &p.PasswordHash, &p.Wallet, &p.Crypto,
		&p.Experience, &p.Reputation, &p.Premium, &p.Banned, &p.ClanID,
		&p.HomeServerID, &p.CreatedAt, &lastSeen)
	if err != nil {
		return nil, err
	}
	if lastSeen != nil {
		p.LastSeen = *lastSeen
	}
	return &p, nil
}

// GetByLogin returns the player with the given login, nil when absent.
func (r *PlayerRepository) GetByLogin(ctx context.Context, login string) (*model.Player, error) {
	login = strings.ToLower(login)
	p, err := scanPlayer(r.db.QueryRow(ctx,
		`SELECT `+playerCols+` FROM players WHERE login = $1`, login))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying player %q: %w", login, err)
	}
	return p, nil
}

// GetByID returns the player with the given id, nil when absent.
func (r *PlayerRepository) GetByID(ctx context.Context, id int64) (*model.Player, error) {
	p, err := scanPlayer(r.db.QueryRow(ctx,
		`SELECT `+playerCols+` FROM players WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying player %d: %w", id, err)
	}
	return p, nil
}

// Create inserts a new player and fills in its id.
func (r *PlayerRepository) Create(ctx context.Context, p *model.Player) error {
	p.Login = strings.ToLower(p.Login)
	err := r.db.QueryRow(ctx,
		`INSERT INTO players (login, password_hash, wallet, crypto, experience,
		     reputation, premium, banned, clan_id, home_server_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		p.Login, p.PasswordHash, p.Wallet, p.Crypto, p.Experience,
		p.Reputation, p.Premium, p.Banned, p.ClanID, p.HomeServerID, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("creating player %q: %w", p.Login, err)
	}
	return nil
}

// SetHomeServer links a freshly registered player to its home server.
func (r *PlayerRepository) SetHomeServer(ctx context.Context, playerID, serverID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE players SET home_server_id = $2 WHERE id = $1`, playerID, serverID)
	if err != nil {
		return fmt.Errorf("setting home server of player %d: %w", playerID, err)
	}
	return nil
}

// TouchLastSeen stamps the player's last activity.
func (r *PlayerRepository) TouchLastSeen(ctx context.Context, playerID int64, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE players SET last_seen = $2 WHERE id = $1`, playerID, at)
	if err != nil {
		return fmt.Errorf("touching last seen of player %d: %w", playerID, err)
	}
	return nil
}

// All returns every player, for world cache warm-up.
func (r *PlayerRepository) All(ctx context.Context) ([]model.Player, error) {
	rows, err := r.db.Query(ctx, `SELECT `+playerCols+` FROM players ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading players: %w", err)
	}
	defer rows.Close()

	var out []model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning player row: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
