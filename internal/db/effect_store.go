package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/hackgrid/internal/effect"
	"github.com/udisondev/hackgrid/internal/model"
)

// EffectStore implements effect.Store over a pgx pool. Every effect
// transaction maps to one database transaction.
type EffectStore struct {
	db *pgxpool.Pool
}

// NewEffectStore creates a new EffectStore.
func NewEffectStore(db *pgxpool.Pool) *EffectStore {
	return &EffectStore{db: db}
}

// WithTx implements effect.Store.
func (s *EffectStore) WithTx(ctx context.Context, fn func(tx effect.Tx) error) error {
	pgtx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning effect transaction: %w", err)
	}
	defer pgtx.Rollback(ctx)

	if err := fn(&effectTx{tx: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("committing effect transaction: %w", err)
	}
	return nil
}

type effectTx struct {
	tx pgx.Tx
}

func (t *effectTx) MarkApplied(ctx context.Context, pid int64) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO process_effects (pid) VALUES ($1) ON CONFLICT (pid) DO NOTHING`, pid)
	if err != nil {
		return false, fmt.Errorf("marking effects for pid %d: %w", pid, err)
	}
	return tag.RowsAffected() == 0, nil
}

func (t *effectTx) SaveProcess(ctx context.Context, p *model.Process) error {
	return upsertProcess(ctx, t.tx, p)
}

func (t *effectTx) InsertCredential(ctx context.Context, c *model.Credential) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO credentials (player_id, server_id, granted_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (player_id, server_id) DO UPDATE SET
		     granted_at = EXCLUDED.granted_at, expires_at = EXCLUDED.expires_at`,
		c.PlayerID, c.ServerID, c.GrantedAt, c.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting credential for player %d on server %d: %w", c.PlayerID, c.ServerID, err)
	}
	return nil
}

func (t *effectTx) InsertSoftware(ctx context.Context, sw *model.Software) (int64, error) {
	var lastCollected *time.Time
	if !sw.LastCollected.IsZero() {
		lastCollected = &sw.LastCollected
	}
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO software (owner_id, server_id, type, name, version,
		     size_mb, effectiveness, stealth, reliability, min_cpu, min_ram,
		     hidden, yield_per_hour, installed_at, last_collected)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`,
		sw.OwnerID, sw.ServerID, string(sw.Type), sw.Name, sw.Version,
		sw.SizeMB, sw.Effectiveness, sw.Stealth, sw.Reliability, sw.MinCPU, sw.MinRAM,
		sw.Hidden, sw.YieldPerHour, sw.InstalledAt, lastCollected,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting software %q: %w", sw.Name, err)
	}
	return id, nil
}

func (t *effectTx) TouchCollected(ctx context.Context, softwareID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE software SET last_collected = $2 WHERE id = $1`, softwareID, at)
	if err != nil {
		return fmt.Errorf("touching collection time of software %d: %w", softwareID, err)
	}
	return nil
}

func (t *effectTx) AccountForUpdate(ctx context.Context, id int64) (*model.BankAccount, error) {
	var acc model.BankAccount
	var status string
	err := t.tx.QueryRow(ctx,
		`SELECT id, owner_id, bank_id, balance, status, overdraft, opened_at
		 FROM bank_accounts WHERE id = $1 FOR UPDATE`, id,
	).Scan(&acc.ID, &acc.OwnerID, &acc.BankID, &acc.Balance, &status, &acc.Overdraft, &acc.OpenedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("locking bank account %d: %w", id, err)
	}
	acc.Status = model.AccountStatus(status)
	return &acc, nil
}

func (t *effectTx) AddBalance(ctx context.Context, accountID, delta int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE bank_accounts SET balance = balance + $2 WHERE id = $1`, accountID, delta)
	if err != nil {
		return fmt.Errorf("adjusting balance of account %d: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("adjusting balance of account %d: row not found", accountID)
	}
	return nil
}

func (t *effectTx) InsertTransaction(ctx context.Context, tr *model.BankTransaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO bank_transactions (transfer_id, account_id, amount, fee, pid, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tr.TransferID, tr.AccountID, tr.Amount, tr.Fee, tr.PID, tr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting transaction leg for account %d: %w", tr.AccountID, err)
	}
	return nil
}

func (t *effectTx) AddPlayerFunds(ctx context.Context, playerID, delta int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE players SET wallet = wallet + $2 WHERE id = $1`, playerID, delta)
	if err != nil {
		return fmt.Errorf("adjusting wallet of player %d: %w", playerID, err)
	}
	return nil
}

func (t *effectTx) AddPlayerXP(ctx context.Context, playerID, delta int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE players SET experience = experience + $2 WHERE id = $1`, playerID, delta)
	if err != nil {
		return fmt.Errorf("adjusting experience of player %d: %w", playerID, err)
	}
	return nil
}

func (t *effectTx) AddPlayerReputation(ctx context.Context, playerID int64, delta int) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE players SET reputation = LEAST(GREATEST(reputation + $2, $3), $4) WHERE id = $1`,
		playerID, delta, model.ReputationMin, model.ReputationMax)
	if err != nil {
		return fmt.Errorf("adjusting reputation of player %d: %w", playerID, err)
	}
	return nil
}

func (t *effectTx) InsertLog(ctx context.Context, l *model.LogEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO logs (type, player_id, target_id, server_id, pid, message, tombstoned, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(l.Type), l.PlayerID, l.TargetID, l.ServerID, l.PID, l.Message, l.Tombstoned, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}
	return nil
}

func (t *effectTx) TombstoneLogs(ctx context.Context, serverID int64, ids []int64) (int, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE logs SET tombstoned = TRUE
		 WHERE server_id = $1 AND id = ANY($2) AND NOT tombstoned`,
		serverID, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("tombstoning logs on server %d: %w", serverID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *effectTx) OpenObjectives(ctx context.Context, playerID int64, kind, targetIP string) ([]effect.OpenObjective, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT um.id, o.id, o.quantity - COALESCE(op.done, 0)
		 FROM user_missions um
		 JOIN objectives o ON o.mission_id = um.mission_id
		 LEFT JOIN objective_progress op
		     ON op.user_mission_id = um.id AND op.objective_id = o.id
		 WHERE um.player_id = $1
		   AND um.status = 'ACTIVE'
		   AND o.kind = $2
		   AND (o.target_ip = '' OR o.target_ip = $3)
		   AND COALESCE(op.done, 0) < o.quantity`,
		playerID, kind, targetIP,
	)
	if err != nil {
		return nil, fmt.Errorf("querying open objectives for player %d: %w", playerID, err)
	}
	defer rows.Close()

	var out []effect.OpenObjective
	for rows.Next() {
		var o effect.OpenObjective
		if err := rows.Scan(&o.UserMissionID, &o.ObjectiveID, &o.Remaining); err != nil {
			return nil, fmt.Errorf("scanning objective row: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *effectTx) AdvanceObjective(ctx context.Context, userMissionID, objectiveID int64, by int) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO objective_progress (user_mission_id, objective_id, done)
		 VALUES ($1, $2, LEAST($3, (SELECT quantity FROM objectives WHERE id = $2)))
		 ON CONFLICT (user_mission_id, objective_id) DO UPDATE SET
		     done = LEAST(objective_progress.done + $3,
		                  (SELECT quantity FROM objectives WHERE id = $2))`,
		userMissionID, objectiveID, by,
	)
	if err != nil {
		return fmt.Errorf("advancing objective %d of user mission %d: %w", objectiveID, userMissionID, err)
	}
	return nil
}

func (t *effectTx) RequiredRemaining(ctx context.Context, userMissionID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM user_missions um
		 JOIN objectives o ON o.mission_id = um.mission_id AND o.required
		 LEFT JOIN objective_progress op
		     ON op.user_mission_id = um.id AND op.objective_id = o.id
		 WHERE um.id = $1 AND COALESCE(op.done, 0) < o.quantity`,
		userMissionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting open objectives of user mission %d: %w", userMissionID, err)
	}
	return n, nil
}

func (t *effectTx) CompleteMission(ctx context.Context, userMissionID int64, at time.Time) (*model.MissionTemplate, error) {
	var tpl model.MissionTemplate
	err := t.tx.QueryRow(ctx,
		`UPDATE user_missions um SET status = 'COMPLETED', closed_at = $2
		 FROM mission_templates mt
		 WHERE um.id = $1 AND um.status = 'ACTIVE' AND mt.id = um.mission_id
		 RETURNING mt.id, mt.key, mt.category, mt.difficulty,
		           mt.reward_money, mt.reward_xp, mt.required_level`,
		userMissionID, at,
	).Scan(&tpl.ID, &tpl.Key, &tpl.Category, &tpl.Difficulty,
		&tpl.RewardMoney, &tpl.RewardXP, &tpl.RequiredLevel)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("completing user mission %d: %w", userMissionID, err)
	}
	return &tpl, nil
}
