package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/hackgrid/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the
// process row helpers work inside and outside effect transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessRepository persists process rows. It implements the engine's
// ProcessWriter: the engine acknowledges a transition only after
// Insert/Update returns nil.
type ProcessRepository struct {
	db *pgxpool.Pool
}

// NewProcessRepository creates a new ProcessRepository.
func NewProcessRepository(db *pgxpool.Pool) *ProcessRepository {
	return &ProcessRepository{db: db}
}

const processCols = `pid, creator_id, target_server, action, software_id,
	cpu_req, ram_req, net_req, priority, stealth_level, parent_pid,
	duration_seconds, worked_seconds, state, fail_reason, auto_resume,
	detection_risk, payload, created_at, completed_at`

func insertProcess(ctx context.Context, q querier, p *model.Process) error {
	_, err := q.Exec(ctx,
		`INSERT INTO processes (`+processCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		processArgs(p)...,
	)
	if err != nil {
		return fmt.Errorf("inserting process %d: %w", p.PID, err)
	}
	return nil
}

func upsertProcess(ctx context.Context, q querier, p *model.Process) error {
	_, err := q.Exec(ctx,
		`INSERT INTO processes (`+processCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		 ON CONFLICT (pid) DO UPDATE SET
		     worked_seconds = EXCLUDED.worked_seconds,
		     state = EXCLUDED.state,
		     fail_reason = EXCLUDED.fail_reason,
		     auto_resume = EXCLUDED.auto_resume,
		     detection_risk = EXCLUDED.detection_risk,
		     completed_at = EXCLUDED.completed_at`,
		processArgs(p)...,
	)
	if err != nil {
		return fmt.Errorf("upserting process %d: %w", p.PID, err)
	}
	return nil
}

func processArgs(p *model.Process) []any {
	var completedAt *time.Time
	if !p.CompletedAt.IsZero() {
		completedAt = &p.CompletedAt
	}
	var payload []byte
	if len(p.Payload) > 0 {
		payload = p.Payload
	}
	return []any{
		p.PID, p.CreatorID, p.TargetServer, string(p.Action), p.SoftwareID,
		p.CPUReq, p.RAMReq, p.NETReq, p.Priority, p.StealthLevel, p.ParentPID,
		p.DurationSeconds, p.WorkedSeconds, p.State.String(), string(p.FailReason),
		p.AutoResume, p.DetectionRisk, payload, p.CreatedAt, completedAt,
	}
}

func scanProcess(row pgx.Row) (*model.Process, error) {
	var p model.Process
	var action, state, failReason string
	var payload []byte
	var completedAt *time.Time
	err := row.Scan(
		&p.PID, &p.CreatorID, &p.TargetServer, &action, &p.SoftwareID,
		&p.CPUReq, &p.RAMReq, &p.NETReq, &p.Priority, &p.StealthLevel, &p.ParentPID,
		&p.DurationSeconds, &p.WorkedSeconds, &state, &failReason,
		&p.AutoResume, &p.DetectionRisk, &payload, &p.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Action = model.Action(action)
	p.State = model.ParseProcessState(state)
	p.FailReason = model.FailReason(failReason)
	p.Payload = payload
	if completedAt != nil {
		p.CompletedAt = *completedAt
	}
	return &p, nil
}

// Insert implements engine.ProcessWriter.
func (r *ProcessRepository) Insert(ctx context.Context, p *model.Process) error {
	return insertProcess(ctx, r.db, p)
}

// Update implements engine.ProcessWriter.
func (r *ProcessRepository) Update(ctx context.Context, p *model.Process) error {
	var completedAt *time.Time
	if !p.CompletedAt.IsZero() {
		completedAt = &p.CompletedAt
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE processes SET
		     worked_seconds = $2, state = $3, fail_reason = $4,
		     auto_resume = $5, detection_risk = $6, completed_at = $7
		 WHERE pid = $1`,
		p.PID, p.WorkedSeconds, p.State.String(), string(p.FailReason),
		p.AutoResume, p.DetectionRisk, completedAt,
	)
	if err != nil {
		return fmt.Errorf("updating process %d: %w", p.PID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating process %d: row not found", p.PID)
	}
	return nil
}

// LoadNonTerminal returns every RUNNING, PAUSED or PENDING row for
// engine recovery, ordered by pid.
func (r *ProcessRepository) LoadNonTerminal(ctx context.Context) ([]model.Process, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+processCols+` FROM processes
		 WHERE state NOT IN ('COMPLETED_OK', 'COMPLETED_FAIL', 'CANCELLED')
		 ORDER BY pid`,
	)
	if err != nil {
		return nil, fmt.Errorf("loading non-terminal processes: %w", err)
	}
	defer rows.Close()

	var out []model.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning process row: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// MaxPID returns the highest pid ever issued, 0 for an empty table.
// Recovery seeds the engine's allocator above it.
func (r *ProcessRepository) MaxPID(ctx context.Context) (int64, error) {
	var max int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(pid), 0) FROM processes`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying max pid: %w", err)
	}
	return max, nil
}

// HistoryByCreator returns the creator's most recent terminal rows.
func (r *ProcessRepository) HistoryByCreator(ctx context.Context, creatorID int64, limit int) ([]model.Process, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+processCols+` FROM processes
		 WHERE creator_id = $1
		   AND state IN ('COMPLETED_OK', 'COMPLETED_FAIL', 'CANCELLED')
		 ORDER BY completed_at DESC NULLS LAST
		 LIMIT $2`,
		creatorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading process history for player %d: %w", creatorID, err)
	}
	defer rows.Close()

	var out []model.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning process row: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
