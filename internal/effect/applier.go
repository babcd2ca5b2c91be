package effect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/udisondev/hackgrid/internal/bus"
	"github.com/udisondev/hackgrid/internal/clock"
	"github.com/udisondev/hackgrid/internal/model"
	"github.com/udisondev/hackgrid/internal/world"
)

// Config holds effect layer tuning knobs.
type Config struct {
	// CredentialTTL is how long a cracked password grants access.
	CredentialTTL time.Duration
	// TransferFeePercent is the bank's cut of every transfer.
	TransferFeePercent int64
	// FeeAccountID receives transfer fees; 0 burns them.
	FeeAccountID int64
	CrackXP      int64
	ScanXP       int64
	// CrackRepPenalty is the reputation cost of a detected crack on
	// another player's server.
	CrackRepPenalty int
	// MissionReputation is the reputation reward for a completed
	// mission.
	MissionReputation int
	// MaxRetries bounds transaction retries before the engine falls
	// back to COMPLETED_FAIL(DurableStoreUnavailable).
	MaxRetries    uint64
	RetryInterval time.Duration
	// AttemptTimeout bounds one transaction attempt so a hung durable
	// store cannot stall the engine loop.
	AttemptTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CredentialTTL:      24 * time.Hour,
		TransferFeePercent: 5,
		CrackXP:            100,
		ScanXP:             10,
		CrackRepPenalty:    25,
		MissionReputation:  10,
		MaxRetries:         3,
		RetryInterval:      100 * time.Millisecond,
		AttemptTimeout:     5 * time.Second,
	}
}

// Applier implements the engine's EffectApplier against a durable
// store. It runs on the engine goroutine, so world cache reads here see
// the same state the engine's completion recheck saw.
type Applier struct {
	cfg   Config
	store Store
	world *world.Cache
	clk   clock.Clock
}

// New wires an applier. Zero config fields fall back to defaults.
func New(cfg Config, store Store, wc *world.Cache, clk clock.Clock) *Applier {
	def := DefaultConfig()
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = def.CredentialTTL
	}
	if cfg.TransferFeePercent <= 0 {
		cfg.TransferFeePercent = def.TransferFeePercent
	}
	if cfg.CrackXP <= 0 {
		cfg.CrackXP = def.CrackXP
	}
	if cfg.ScanXP <= 0 {
		cfg.ScanXP = def.ScanXP
	}
	if cfg.CrackRepPenalty <= 0 {
		cfg.CrackRepPenalty = def.CrackRepPenalty
	}
	if cfg.MissionReputation <= 0 {
		cfg.MissionReputation = def.MissionReputation
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	return &Applier{cfg: cfg, store: store, world: wc, clk: clk}
}

// staging accumulates what one transaction attempt wants to publish and
// mirror. Discarded wholesale when the attempt rolls back.
type staging struct {
	events []bus.Event
	after  []func()
}

func (s *staging) event(ev bus.Event) { s.events = append(s.events, ev) }

// mirror queues a world cache update to run after commit.
func (s *staging) mirror(fn func()) { s.after = append(s.after, fn) }

// ApplyTerminal commits the terminal row and the action's effects in
// one transaction, idempotent by pid. On COMPLETED_OK the business
// checks here (e.g. account balance) may downgrade the process to
// COMPLETED_FAIL; the caller sees the final state through p.
func (a *Applier) ApplyTerminal(ctx context.Context, p *model.Process) ([]bus.Event, error) {
	var st staging

	op := func() error {
		st = staging{}
		cp := *p
		replay := false

		// Each attempt gets its own deadline; the retry policy decides
		// whether a timed-out attempt is worth another try.
		actx, cancel := context.WithTimeout(ctx, a.cfg.AttemptTimeout)
		err := a.store.WithTx(actx, func(tx Tx) error {
			already, err := tx.MarkApplied(actx, cp.PID)
			if err != nil {
				return err
			}
			if already {
				replay = true
				return nil
			}
			now := a.clk.Now()
			switch cp.State {
			case model.StateCompletedOK:
				if err := a.applyAction(actx, tx, &cp, now, &st); err != nil {
					return err
				}
			case model.StateCompletedFail:
				err := tx.InsertLog(actx, &model.LogEntry{
					Type:      model.LogAction,
					PlayerID:  cp.CreatorID,
					ServerID:  cp.TargetServer,
					PID:       cp.PID,
					Message:   fmt.Sprintf("%s failed: %s", cp.Action, cp.FailReason),
					CreatedAt: now,
				})
				if err != nil {
					return err
				}
			case model.StateCancelled:
				// Only the terminal row.
			default:
				return fmt.Errorf("applying non-terminal process %d in state %s", cp.PID, cp.State)
			}
			return tx.SaveProcess(actx, &cp)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("effect transaction for pid %d: %w", cp.PID, err)
		}
		if replay {
			slog.Info("effect replay skipped", "pid", cp.PID)
			st = staging{}
			return nil
		}
		st.event(completionEvent(&cp))
		*p = cp
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(a.cfg.RetryInterval), a.cfg.MaxRetries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	for _, fn := range st.after {
		fn()
	}
	return st.events, nil
}

// completionEvent is the one event every applied terminal transition
// produces for its creator.
func completionEvent(p *model.Process) bus.Event {
	if p.State == model.StateCancelled {
		return bus.Event{
			Channel: bus.UserChannel(p.CreatorID),
			Type:    bus.TypeNotification,
			Payload: map[string]any{"title": "Process", "message": "Process cancelled", "level": "info"},
		}
	}
	result := "ok"
	if p.State == model.StateCompletedFail {
		result = string(p.FailReason)
	}
	return bus.Event{
		Channel: bus.UserChannel(p.CreatorID),
		Type:    bus.TypeProcessComplete,
		Payload: map[string]any{"pid": p.PID, "action": string(p.Action), "result": result},
	}
}

func (a *Applier) applyAction(ctx context.Context, tx Tx, p *model.Process, now time.Time, st *staging) error {
	switch p.Action {
	case model.ActionPortScan:
		return a.applyScan(ctx, tx, p, now, st)
	case model.ActionCrack:
		return a.applyCrack(ctx, tx, p, now, st)
	case model.ActionDownload, model.ActionUpload:
		return a.applyFileCopy(ctx, tx, p, now, st)
	case model.ActionInstallVirus:
		return a.applyInstallVirus(ctx, tx, p, now, st)
	case model.ActionTransferFunds:
		return a.applyTransfer(ctx, tx, p, now, st)
	case model.ActionDeleteLog:
		return a.applyDeleteLog(ctx, tx, p, now, st)
	case model.ActionCollectYield:
		return a.applyCollectYield(ctx, tx, p, now, st)
	case model.ActionMissionObjective:
		return a.applyObjective(ctx, tx, p, now, st)
	}
	return fmt.Errorf("no effects registered for action %q", p.Action)
}

// downgrade turns a COMPLETED_OK into COMPLETED_FAIL when a business
// check fails at apply time. Not an error: the transaction commits the
// failed row.
func downgrade(p *model.Process, reason model.FailReason) error {
	p.State = model.StateCompletedFail
	p.FailReason = reason
	return nil
}

func (a *Applier) applyScan(ctx context.Context, tx Tx, p *model.Process, now time.Time, st *staging) error {
	srv, ok := a.world.Server(p.TargetServer)
	if !ok {
		return downgrade(p, model.FailTargetGone)
	}

	// A scan reveals services backed by visible software. Hidden
	// software stays hidden unless the scanner outclasses its stealth.
	scanner, _ := a.world.Software(p.SoftwareID)
	services := make([]map[string]any, 0, 4)
	for _, sw := range a.world.SoftwareOnServer(srv.ID) {
		if sw.Hidden && scanner.Effectiveness <= sw.Stealth {
			continue
		}
		services = append(services, map[string]any{
			"name": sw.Name, "type": string(sw.Type), "version": sw.Version,
		})
	}
	st.event(bus.Event{
		Channel: bus.UserChannel(p.CreatorID),
		Type:    bus.TypeScanResult,
		Payload: map[string]any{
			"pid":      p.PID,
			"ip":       srv.IP,
			"firewall": srv.FirewallLevel,
			"security": srv.PasswordStrength,
			"services": services,
		},
	})

	if p.DetectionRisk > 0 {
		err := tx.InsertLog(ctx, &model.LogEntry{
			Type: model.LogHacking, PlayerID: p.CreatorID, TargetID: srv.OwnerID,
			ServerID: srv.ID, PID: p.PID,
			Message: "port scan detected", CreatedAt: now,
		})
		if err != nil {
			return err
		}
	}
	if err := a.awardXP(ctx, tx, p.CreatorID, a.cfg.ScanXP, st); err != nil {
		return err
	}
	return a.missionHook(ctx, tx, p.CreatorID, "scan_server", srv.IP, 1, now, st)
}

func (a *Applier) applyCrack(ctx context.Context, tx Tx, p *model.Process, now time.Time, st *staging) error {
	srv, ok := a.world.Server(p.TargetServer)
	if !ok {
		return downgrade(p, model.FailTargetGone)
	}

	cred := &model.Credential{
		PlayerID:  p.CreatorID,
		ServerID:  srv.ID,
		GrantedAt: now,
		ExpiresAt: now.Add(a.cfg.CredentialTTL),
	}
	if err := tx.InsertCredential(ctx, cred); err != nil {
		return err
	}
	st.mirror(func() { a.world.GrantCredential(cred) })

	err := tx.InsertLog(ctx, &model.LogEntry{
		Type: model.LogHacking, PlayerID: p.CreatorID, TargetID: srv.OwnerID,
		ServerID: srv.ID, PID: p.PID,
		Message: "password cracked", CreatedAt: now,
	})
	if err != nil {
		return err
	}

	if srv.OwnerID != 0 && srv.OwnerID != p.CreatorID && p.DetectionRisk > 0 {
		st.event(bus.Event{
			Channel: bus.UserChannel(srv.OwnerID),
			Type:    bus.TypeAttackCompleted,
			Payload: map[string]any{"pid": p.PID, "action": string(p.Action), "ip": srv.IP},
		})
		// A detected break-in has a price.
		if err := a.adjustReputation(ctx, tx, p.CreatorID, -a.cfg.CrackRepPenalty, st); err != nil {
			return err
		}
	}
	if err := a.awardXP(ctx, tx, p.CreatorID, a.cfg.CrackXP, st); err != nil {
		return err
	}
	return a.missionHook(ctx, tx, p.CreatorID, "hack_server", srv.IP, 1, now, st)
}

func (a *Applier) applyFileCopy(ctx context.Context, tx Tx, p *model.Process, now time.Time, st *staging) error {
	var pl model.FilePayload
	if err := json.Unmarshal(p.Payload, &pl); err != nil {
		return downgrade(p, model.FailInvalidState)
	}
	src, ok := a.world.Software(pl.SoftwareID)
	if !ok {
		return downgrade(p, model.FailSoftwareUninstalled)
	}

	dest := src
	dest.ID = 0
	dest.OwnerID = p.CreatorID
	dest.InstalledAt = now
	dest.LastCollected = time.Time{}
	if p.Action == model.ActionDownload {
		creator, ok := a.world.Player(p.CreatorID)
		if !ok {
			return downgrade(p, model.FailInvalidState)
		}
		dest.ServerID = creator.HomeServerID
	} else {
		dest.ServerID = p.TargetServer
	}

	id, err := tx.InsertSoftware(ctx, &dest)
	if err != nil {
		return err
	}
	dest.ID = id
	st.mirror(func() { a.world.PutSoftware(&dest) })

	verb := "downloaded"
	if p.Action == model.ActionUpload {
		verb = "uploaded"
	}
	err = tx.InsertLog(ctx, &model.LogEntry{
		Type: model.LogHacking, PlayerID: p.CreatorID,
		ServerID: p.TargetServer, PID: p.PID,
		Message: fmt.Sprintf("file %s: %s", verb, src.Name), CreatedAt: now,
	})
	if err != nil {
		return err
	}
	st.event(bus.Event{
		Channel: bus.UserChannel(p.CreatorID),
		Type:    bus.TypeNotification,
		Payload: map[string]any{
			"title": "Transfer", "level": "info",
			"message": fmt.Sprintf("%s %s", src.Name, verb),
		},
	})
	return nil
}

func (a *Applier) applyInstallVirus(ctx context.Context, tx Tx, p *model.Process, now time.Time, st *staging) error {
	src, ok := a.world.Software(p.SoftwareID)
	if !ok {
		return downgrade(p, model.FailSoftwareUninstalled)
	}

	inst := src
	inst.ID = 0
	inst.OwnerID = p.CreatorID
	inst.ServerID = p.TargetServer
	inst.Hidden = true
	inst.InstalledAt = now
	inst.LastCollected = time.Time{}

	id, err := tx.InsertSoftware(ctx, &inst)
	if err != nil {
		return err
	}
	inst.ID = id
	st.mirror(func() { a.world.PutSoftware(&inst) })

	srv, _ := a.world.Server(p.TargetServer)
	err = tx.InsertLog(ctx, &model.LogEntry{
		Type: model.LogHacking, PlayerID: p.CreatorID, TargetID: srv.OwnerID,
		ServerID: p.TargetServer, PID: p.PID,
		Message: fmt.Sprintf("virus installed: %s", inst.Name), CreatedAt: now,
	})
	if err != nil {
		return err
	}
	st.event(bus.Event{
		Channel: bus.UserChannel(p.CreatorID),
		Type:    bus.TypeNotification,
		Payload: map[string]any{
			"title": "Virus", "level": "info",
			"message":     fmt.Sprintf("%s active on %s", inst.Name, srv.IP),
			"software_id": id,
		},
	})
	return a.missionHook(ctx, tx, p.CreatorID, "install_virus", srv.IP, 1, now, st)
}

func (a *Applier) applyTransfer(ctx context.Context, tx Tx, p *model.Process, now time.Time, st *staging) error {
	var pl model.TransferPayload
	if err := json.Unmarshal(p.Payload, &pl); err != nil || pl.Amount <= 0 {
		return downgrade(p, model.FailInvalidState)
	}

	from, err := tx.AccountForUpdate(ctx, pl.FromAccount)
	if err != nil {
		return err
	}
	to, err := tx.AccountForUpdate(ctx, pl.ToAccount)
	if err != nil {
		return err
	}
	if from == nil || to == nil || to.Status != model.AccountOpen {
		return downgrade(p, model.FailTargetGone)
	}

	fee := pl.Amount * a.cfg.TransferFeePercent / 100
	if !from.CanDebit(pl.Amount + fee) {
		return downgrade(p, model.FailInvalidState)
	}

	transferID := uuid.NewString()
	if err := tx.AddBalance(ctx, from.ID, -(pl.Amount + fee)); err != nil {
		return err
	}
	err = tx.InsertTransaction(ctx, &model.BankTransaction{
		TransferID: transferID, AccountID: from.ID,
		Amount: -(pl.Amount + fee), Fee: fee, PID: p.PID, CreatedAt: now,
	})
	if err != nil {
		return err
	}
	if err := tx.AddBalance(ctx, to.ID, pl.Amount); err != nil {
		return err
	}
	err = tx.InsertTransaction(ctx, &model.BankTransaction{
		TransferID: transferID, AccountID: to.ID,
		Amount: pl.Amount, PID: p.PID, CreatedAt: now,
	})
	if err != nil {
		return err
	}
	if a.cfg.FeeAccountID != 0 {
		if err := tx.AddBalance(ctx, a.cfg.FeeAccountID, fee); err != nil {
			return err
		}
		err = tx.InsertTransaction(ctx, &model.BankTransaction{
			TransferID: transferID, AccountID: a.cfg.FeeAccountID,
			Amount: fee, PID: p.PID, CreatedAt: now,
		})
		if err != nil {
			return err
		}
	}

	err = tx.InsertLog(ctx, &model.LogEntry{
		Type: model.LogAudit, PlayerID: p.CreatorID, TargetID: to.OwnerID,
		ServerID: p.TargetServer, PID: p.PID,
		Message:   fmt.Sprintf("transfer %s: %d (fee %d)", transferID, pl.Amount, fee),
		CreatedAt: now,
	})
	if err != nil {
		return err
	}
	st.event(bus.Event{
		Channel: bus.UserChannel(p.CreatorID),
		Type:    bus.TypeNotification,
		Payload: map[string]any{
			"title": "Bank", "level": "info",
			"message":     fmt.Sprintf("transferred %d (fee %d)", pl.Amount, fee),
			"transfer_id": transferID,
		},
	})
	return a.missionHook(ctx, tx, p.CreatorID, "transfer_funds", "", 1, now, st)
}

func (a *Applier) applyDeleteLog(ctx context.Context, tx Tx, p *model.Process, now time.Time, st *staging) error {
	var pl model.DeleteLogPayload
	if err := json.Unmarshal(p.Payload, &pl); err != nil {
		return downgrade(p, model.FailInvalidState)
	}
	n, err := tx.TombstoneLogs(ctx, p.TargetServer, pl.LogIDs)
	if err != nil {
		return err
	}
	// The wipe itself is auditable and not wipeable by the same tool.
	err = tx.InsertLog(ctx, &model.LogEntry{
		Type: model.LogAudit, PlayerID: p.CreatorID,
		ServerID: p.TargetServer, PID: p.PID,
		Message: fmt.Sprintf("%d log entries wiped", n), CreatedAt: now,
	})
	if err != nil {
		return err
	}
	st.event(bus.Event{
		Channel: bus.UserChannel(p.CreatorID),
		Type:    bus.TypeNotification,
		Payload: map[string]any{
			"title": "Logs", "level": "info",
			"message": fmt.Sprintf("%d entries wiped", n),
		},
	})
	return nil
}

func (a *Applier) applyCollectYield(ctx context.Context, tx Tx, p *model.Process, now time.Time, st *staging) error {
	var pl model.VirusPayload
	if err := json.Unmarshal(p.Payload, &pl); err != nil {
		return downgrade(p, model.FailInvalidState)
	}
	sw, ok := a.world.Software(pl.SoftwareID)
	if !ok {
		return downgrade(p, model.FailSoftwareUninstalled)
	}

	accrued := sw.YieldAccrued(now)
	if accrued > 0 {
		if err := tx.AddPlayerFunds(ctx, p.CreatorID, accrued); err != nil {
			return err
		}
	}
	if err := tx.TouchCollected(ctx, sw.ID, now); err != nil {
		return err
	}

	collected := sw
	collected.LastCollected = now
	st.mirror(func() {
		a.world.PutSoftware(&collected)
		a.world.AdjustPlayer(p.CreatorID, func(pl *model.Player) { pl.Wallet += accrued })
	})

	creator, _ := a.world.Player(p.CreatorID)
	st.event(bus.Event{
		Channel: bus.UserChannel(p.CreatorID),
		Type:    bus.TypeStatsUpdate,
		Payload: map[string]any{
			"money":      creator.Wallet + accrued,
			"experience": creator.Experience,
			"level":      creator.Level(),
		},
	})
	return nil
}

func (a *Applier) applyObjective(ctx context.Context, tx Tx, p *model.Process, now time.Time, st *staging) error {
	var pl model.ObjectivePayload
	if err := json.Unmarshal(p.Payload, &pl); err != nil {
		return downgrade(p, model.FailInvalidState)
	}
	qty := pl.Quantity
	if qty <= 0 {
		qty = 1
	}
	if err := tx.AdvanceObjective(ctx, pl.UserMissionID, pl.ObjectiveID, qty); err != nil {
		return err
	}
	return a.completeIfDone(ctx, tx, pl.UserMissionID, p.CreatorID, now, st)
}

// adjustReputation applies a clamped reputation delta durably and
// mirrors it into the cache.
func (a *Applier) adjustReputation(ctx context.Context, tx Tx, playerID int64, delta int, st *staging) error {
	if delta == 0 {
		return nil
	}
	if err := tx.AddPlayerReputation(ctx, playerID, delta); err != nil {
		return err
	}
	st.mirror(func() {
		a.world.AdjustPlayer(playerID, func(p *model.Player) {
			p.Reputation = model.ClampReputation(p.Reputation + delta)
		})
	})
	return nil
}

// awardXP credits experience and stages a stats_update reflecting the
// post-commit totals.
func (a *Applier) awardXP(ctx context.Context, tx Tx, playerID, xp int64, st *staging) error {
	if xp <= 0 {
		return nil
	}
	if err := tx.AddPlayerXP(ctx, playerID, xp); err != nil {
		return err
	}
	st.mirror(func() {
		a.world.AdjustPlayer(playerID, func(p *model.Player) { p.Experience += xp })
	})
	player, _ := a.world.Player(playerID)
	st.event(bus.Event{
		Channel: bus.UserChannel(playerID),
		Type:    bus.TypeStatsUpdate,
		Payload: map[string]any{
			"money":      player.Wallet,
			"experience": player.Experience + xp,
			"level":      model.LevelForXP(player.Experience + xp),
		},
	})
	return nil
}

// missionHook advances every open objective matching the completed
// action and pays out missions it finishes.
func (a *Applier) missionHook(ctx context.Context, tx Tx, playerID int64, kind, targetIP string, qty int, now time.Time, st *staging) error {
	objs, err := tx.OpenObjectives(ctx, playerID, kind, targetIP)
	if err != nil {
		return err
	}
	for _, o := range objs {
		if err := tx.AdvanceObjective(ctx, o.UserMissionID, o.ObjectiveID, qty); err != nil {
			return err
		}
		if err := a.completeIfDone(ctx, tx, o.UserMissionID, playerID, now, st); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) completeIfDone(ctx context.Context, tx Tx, userMissionID, playerID int64, now time.Time, st *staging) error {
	remaining, err := tx.RequiredRemaining(ctx, userMissionID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	tpl, err := tx.CompleteMission(ctx, userMissionID, now)
	if err != nil {
		return err
	}
	if tpl == nil {
		return nil
	}
	if tpl.RewardMoney > 0 {
		if err := tx.AddPlayerFunds(ctx, playerID, tpl.RewardMoney); err != nil {
			return err
		}
	}
	if tpl.RewardXP > 0 {
		if err := tx.AddPlayerXP(ctx, playerID, tpl.RewardXP); err != nil {
			return err
		}
	}
	if err := a.adjustReputation(ctx, tx, playerID, a.cfg.MissionReputation, st); err != nil {
		return err
	}
	st.mirror(func() {
		a.world.AdjustPlayer(playerID, func(p *model.Player) {
			p.Wallet += tpl.RewardMoney
			p.Experience += tpl.RewardXP
		})
	})
	player, _ := a.world.Player(playerID)
	st.event(bus.Event{
		Channel: bus.UserChannel(playerID),
		Type:    bus.TypeNotification,
		Payload: map[string]any{
			"title": "Mission complete", "level": "success",
			"message":   fmt.Sprintf("mission %s complete", tpl.Key),
			"reward":    tpl.RewardMoney,
			"reward_xp": tpl.RewardXP,
		},
	})
	st.event(bus.Event{
		Channel: bus.UserChannel(playerID),
		Type:    bus.TypeStatsUpdate,
		Payload: map[string]any{
			"money":      player.Wallet + tpl.RewardMoney,
			"experience": player.Experience + tpl.RewardXP,
			"level":      model.LevelForXP(player.Experience + tpl.RewardXP),
		},
	})
	return nil
}
