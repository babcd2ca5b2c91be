package model

import (
	"encoding/json"
	"time"
)

// ProcessState is the lifecycle state of a process.
type ProcessState int32

const (
	StatePending ProcessState = iota
	StateRunning
	StatePaused
	StateCompletedOK
	StateCompletedFail
	StateCancelled
)

// String returns the durable representation of the state.
func (s ProcessState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateCompletedOK:
		return "COMPLETED_OK"
	case StateCompletedFail:
		return "COMPLETED_FAIL"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ParseProcessState converts the durable representation back to a state.
func ParseProcessState(s string) ProcessState {
	switch s {
	case "PENDING":
		return StatePending
	case "RUNNING":
		return StateRunning
	case "PAUSED":
		return StatePaused
	case "COMPLETED_OK":
		return StateCompletedOK
	case "COMPLETED_FAIL":
		return StateCompletedFail
	case "CANCELLED":
		return StateCancelled
	default:
		return StatePending
	}
}

// IsTerminal reports whether the state is immutable.
func (s ProcessState) IsTerminal() bool {
	return s == StateCompletedOK || s == StateCompletedFail || s == StateCancelled
}

// Action identifies what a process does when it completes.
type Action string

const (
	ActionPortScan         Action = "port_scan"
	ActionCrack            Action = "crack"
	ActionDownload         Action = "download"
	ActionUpload           Action = "upload"
	ActionInstallVirus     Action = "install_virus"
	ActionTransferFunds    Action = "transfer_funds"
	ActionDeleteLog        Action = "delete_log"
	ActionCollectYield     Action = "collect_yield"
	ActionMissionObjective Action = "mission_objective"
)

// PauseReason records why a process was paused. RESOURCE pauses are
// auto-resumable; MANUAL and SECURITY pauses require an explicit Resume.
type PauseReason string

const (
	PauseManual   PauseReason = "MANUAL"
	PauseResource PauseReason = "RESOURCE"
	PauseSecurity PauseReason = "SECURITY"
)

// AutoResumable reports whether the engine may resume the process on
// its own once resources free up.
func (r PauseReason) AutoResumable() bool {
	return r == PauseResource
}

// FailReason is the typed reason carried by COMPLETED_FAIL.
type FailReason string

const (
	FailNone                   FailReason = ""
	FailNoResources            FailReason = "NoResources"
	FailInvalidState           FailReason = "InvalidState"
	FailTargetGone             FailReason = "TargetGone"
	FailSoftwareUninstalled    FailReason = "SoftwareUninstalled"
	FailPasswordChanged        FailReason = "PasswordChanged"
	FailTransientNetwork       FailReason = "TransientNetwork"
	FailDurableStoreUnavailable FailReason = "DurableStoreUnavailable"
)

// Retryable reports whether the creator may usefully re-issue the command.
func (r FailReason) Retryable() bool {
	switch r {
	case FailNoResources, FailPasswordChanged, FailTransientNetwork:
		return true
	}
	return false
}

// Process is a long-running game action. The engine exclusively owns
// State, WorkedSeconds and the resource reservation for the whole
// non-terminal life of the process; everyone else reads snapshots.
type Process struct {
	PID          int64
	CreatorID    int64
	TargetServer int64
	Action       Action
	SoftwareID   int64 // 0 when the action needs no software

	CPUReq float64
	RAMReq float64
	NETReq float64

	Priority     int // 1..10, higher preempts lower
	StealthLevel int
	ParentPID    int64 // 0 when top-level

	// DurationSeconds is the ideal duration at the declared share.
	// WorkedSeconds accumulates only while RUNNING; progress is derived.
	DurationSeconds float64
	WorkedSeconds   float64

	State      ProcessState
	FailReason FailReason

	// RunStart is the wall instant the current RUNNING stretch began.
	// Meaningless outside RUNNING.
	RunStart time.Time
	PausedAt time.Time
	// AutoResume marks a RESOURCE pause eligible for engine-driven resume.
	AutoResume bool

	DetectionRisk float64

	Payload json.RawMessage

	CreatedAt   time.Time
	CompletedAt time.Time
}

// Progress returns the completion fraction in [0, 1] as of now.
func (p *Process) Progress(now time.Time) float64 {
	worked := p.WorkedAt(now)
	if p.DurationSeconds <= 0 {
		return 1
	}
	frac := worked / p.DurationSeconds
	if frac > 1 {
		return 1
	}
	return frac
}

// WorkedAt returns accumulated worked seconds as of now, extrapolating
// the current RUNNING stretch without mutating the process.
func (p *Process) WorkedAt(now time.Time) float64 {
	worked := p.WorkedSeconds
	if p.State == StateRunning {
		worked += now.Sub(p.RunStart).Seconds()
	}
	if worked < 0 {
		return 0
	}
	return worked
}

// RemainingSeconds returns seconds of work left as of now.
func (p *Process) RemainingSeconds(now time.Time) float64 {
	rem := p.DurationSeconds - p.WorkedAt(now)
	if rem < 0 {
		return 0
	}
	return rem
}

// Terminal reports whether the process reached an immutable state.
func (p *Process) Terminal() bool {
	return p.State.IsTerminal()
}
