package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/hackgrid/internal/model"
)

// ServerRepository manages virtual hosts.
type ServerRepository struct {
	db *pgxpool.Pool
}

// NewServerRepository creates a new ServerRepository.
func NewServerRepository(db *pgxpool.Pool) *ServerRepository {
	return &ServerRepository{db: db}
}

const serverCols = `id, owner_id, ip, cpu_total, ram_total, net_total,
	firewall_level, monitoring_level, password_hash, password_strength,
	online, max_connections, location`

func scanServer(row pgx.Row) (*model.Server, error) {
	var s model.Server
	err := row.Scan(&s.ID, &s.OwnerID, &s.IP, &s.CPUTotal, &s.RAMTotal, &s.NETTotal,
		&s.FirewallLevel, &s.MonitoringLevel, &s.PasswordHash, &s.PasswordStrength,
		&s.Online, &s.MaxConnections, &s.Location)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByID returns the server with the given id, nil when absent.
func (r *ServerRepository) GetByID(ctx context.Context, id int64) (*model.Server, error) {
	s, err := scanServer(r.db.QueryRow(ctx,
		`SELECT `+serverCols+` FROM servers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying server %d: %w", id, err)
	}
	return s, nil
}

// Create inserts a new server and fills in its id.
func (r *ServerRepository) Create(ctx context.Context, s *model.Server) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO servers (owner_id, ip, cpu_total, ram_total, net_total,
		     firewall_level, monitoring_level, password_hash, password_strength,
		     online, max_connections, location)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		s.OwnerID, s.IP, s.CPUTotal, s.RAMTotal, s.NETTotal,
		s.FirewallLevel, s.MonitoringLevel, s.PasswordHash, s.PasswordStrength,
		s.Online, s.MaxConnections, s.Location,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("creating server %s: %w", s.IP, err)
	}
	return nil
}

// SetOnline flips the server's availability.
func (r *ServerRepository) SetOnline(ctx context.Context, id int64, online bool) error {
	_, err := r.db.Exec(ctx,
		`UPDATE servers SET online = $2 WHERE id = $1`, id, online)
	if err != nil {
		return fmt.Errorf("setting server %d online=%t: %w", id, online, err)
	}
	return nil
}

// All returns every server, for world cache warm-up.
func (r *ServerRepository) All(ctx context.Context) ([]model.Server, error) {
	rows, err := r.db.Query(ctx, `SELECT `+serverCols+` FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading servers: %w", err)
	}
	defer rows.Close()

	var out []model.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning server row: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
