package engine

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/udisondev/hackgrid/internal/model"
	"github.com/udisondev/hackgrid/internal/resource"
	"github.com/udisondev/hackgrid/internal/world"
)

// ActionContext is everything a duration formula or precondition check
// may look at. It is assembled by the engine on the command goroutine.
type ActionContext struct {
	Now      time.Time
	Creator  model.Player
	Target   model.Server
	Software model.Software // zero value when the action needs none
	Payload  json.RawMessage
	Request  resource.Triple
	World    *world.Cache
}

// ActionSpec is the per-action contract: resource profile, software
// requirement, duration formula, preconditions and detection
// sensitivity. Completion effects live in the effect layer.
type ActionSpec struct {
	// DefaultRequest is the declared resource share when the caller
	// does not override it.
	DefaultRequest resource.Triple
	// Software is the required software type, empty for none.
	Software model.SoftwareType
	// Sensitivity scales the per-tick detection roll.
	Sensitivity float64
	// Duration returns ideal_duration in seconds at the declared share.
	Duration func(actx ActionContext) float64
	// Precheck validates action preconditions. It runs both at Start and
	// again at completion; a non-empty reason fails the process.
	Precheck func(actx ActionContext) model.FailReason
}

var actionRegistry = map[model.Action]ActionSpec{
	model.ActionPortScan: {
		DefaultRequest: resource.Triple{CPU: 0.1, RAM: 0.1, NET: 0.4},
		Software:       model.SoftwareScanner,
		Sensitivity:    1.0,
		Duration: func(a ActionContext) float64 {
			eff := float64(a.Software.Effectiveness)
			if eff < 1 {
				eff = 1
			}
			net := a.Request.NET
			if net <= 0 {
				net = 0.1
			}
			return 120 * (1 + float64(a.Target.FirewallLevel)/10) / (eff / 50) / (0.5 + net)
		},
		Precheck: func(a ActionContext) model.FailReason {
			if !a.Target.Online {
				return model.FailTargetGone
			}
			return ""
		},
	},

	model.ActionCrack: {
		DefaultRequest: resource.Triple{CPU: 0.4, RAM: 0.2, NET: 0.1},
		Software:       model.SoftwareCracker,
		Sensitivity:    2.0,
		Duration: func(a ActionContext) float64 {
			eff := float64(a.Software.Effectiveness)
			if eff < 1 {
				eff = 1
			}
			cpu := a.Request.CPU
			if cpu <= 0 {
				cpu = 0.1
			}
			return 300 * float64(a.Target.PasswordStrength) / (eff * cpu)
		},
		Precheck: func(a ActionContext) model.FailReason {
			if !a.Target.Online {
				return model.FailTargetGone
			}
			if !a.Target.HasPassword() {
				return model.FailInvalidState
			}
			return ""
		},
	},

	model.ActionDownload: {
		DefaultRequest: resource.Triple{CPU: 0.1, RAM: 0.1, NET: 0.5},
		Sensitivity:    1.5,
		Duration:       fileTransferDuration,
		Precheck:       fileTransferPrecheck,
	},

	model.ActionUpload: {
		DefaultRequest: resource.Triple{CPU: 0.1, RAM: 0.1, NET: 0.5},
		Sensitivity:    1.5,
		Duration:       fileTransferDuration,
		Precheck: func(a ActionContext) model.FailReason {
			if !a.Target.Online {
				return model.FailTargetGone
			}
			if !a.World.HasCredential(a.Creator.ID, a.Target.ID, a.Now) {
				return model.FailInvalidState
			}
			var pl model.FilePayload
			if json.Unmarshal(a.Payload, &pl) != nil {
				return model.FailInvalidState
			}
			sw, ok := a.World.Software(pl.SoftwareID)
			if !ok || sw.ServerID != a.Creator.HomeServerID {
				return model.FailSoftwareUninstalled
			}
			return ""
		},
	},

	model.ActionInstallVirus: {
		DefaultRequest: resource.Triple{CPU: 0.2, RAM: 0.2, NET: 0.2},
		Software:       model.SoftwareVirus,
		Sensitivity:    3.0,
		Duration:       func(ActionContext) float64 { return 180 },
		Precheck: func(a ActionContext) model.FailReason {
			if !a.Target.Online {
				return model.FailTargetGone
			}
			if !a.World.HasCredential(a.Creator.ID, a.Target.ID, a.Now) {
				return model.FailInvalidState
			}
			if a.Software.Type != model.SoftwareVirus {
				return model.FailInvalidState
			}
			return ""
		},
	},

	model.ActionTransferFunds: {
		DefaultRequest: resource.Triple{CPU: 0.1, RAM: 0.1, NET: 0.2},
		Sensitivity:    2.5,
		Duration: func(a ActionContext) float64 {
			var pl model.TransferPayload
			if json.Unmarshal(a.Payload, &pl) != nil {
				return 30
			}
			d := 30 + float64(pl.Amount)/10000
			if d > 600 {
				d = 600
			}
			return d
		},
		Precheck: func(a ActionContext) model.FailReason {
			var pl model.TransferPayload
			if json.Unmarshal(a.Payload, &pl) != nil || pl.Amount <= 0 {
				return model.FailInvalidState
			}
			return ""
		},
	},

	model.ActionDeleteLog: {
		DefaultRequest: resource.Triple{CPU: 0.2, RAM: 0.1, NET: 0.1},
		Software:       model.SoftwareLogEditor,
		Sensitivity:    1.0,
		Duration: func(a ActionContext) float64 {
			var pl model.DeleteLogPayload
			if json.Unmarshal(a.Payload, &pl) != nil {
				return 5
			}
			return 5 * float64(len(pl.LogIDs))
		},
		Precheck: func(a ActionContext) model.FailReason {
			if !a.Target.Online {
				return model.FailTargetGone
			}
			if !a.World.HasCredential(a.Creator.ID, a.Target.ID, a.Now) {
				return model.FailInvalidState
			}
			return ""
		},
	},

	model.ActionCollectYield: {
		DefaultRequest: resource.Triple{CPU: 0.1, RAM: 0.1, NET: 0.1},
		Sensitivity:    0.5,
		Duration:       func(ActionContext) float64 { return 60 },
		Precheck: func(a ActionContext) model.FailReason {
			var pl model.VirusPayload
			if json.Unmarshal(a.Payload, &pl) != nil {
				return model.FailInvalidState
			}
			sw, ok := a.World.Software(pl.SoftwareID)
			if !ok {
				return model.FailSoftwareUninstalled
			}
			if sw.OwnerID != a.Creator.ID || sw.Type != model.SoftwareVirus {
				return model.FailInvalidState
			}
			return ""
		},
	},

	// MissionObjective is synthetic: the effect layer advances counters
	// when real actions complete. Starting one directly is a short
	// bookkeeping process used by scripted content.
	model.ActionMissionObjective: {
		DefaultRequest: resource.Triple{},
		Sensitivity:    0,
		Duration:       func(ActionContext) float64 { return 1 },
		Precheck: func(a ActionContext) model.FailReason {
			var pl model.ObjectivePayload
			if json.Unmarshal(a.Payload, &pl) != nil {
				return model.FailInvalidState
			}
			return ""
		},
	},
}

func fileTransferDuration(a ActionContext) float64 {
	var pl model.FilePayload
	size := 10.0
	if json.Unmarshal(a.Payload, &pl) == nil {
		if sw, ok := a.World.Software(pl.SoftwareID); ok {
			size = sw.SizeMB
		}
	}
	net := a.Request.NET
	if net <= 0 {
		net = 0.1
	}
	// 10 Mbps per unit of net share, 8 bits per byte.
	return size * 8 / (net * 10)
}

func fileTransferPrecheck(a ActionContext) model.FailReason {
	if !a.Target.Online {
		return model.FailTargetGone
	}
	if !a.World.HasCredential(a.Creator.ID, a.Target.ID, a.Now) {
		return model.FailInvalidState
	}
	var pl model.FilePayload
	if json.Unmarshal(a.Payload, &pl) != nil {
		return model.FailInvalidState
	}
	sw, ok := a.World.Software(pl.SoftwareID)
	if !ok || sw.ServerID != a.Target.ID {
		return model.FailSoftwareUninstalled
	}
	return ""
}

// LookupAction returns the spec for an action. Unknown actions are
// counted and logged, never executed.
func LookupAction(a model.Action) (ActionSpec, bool) {
	spec, ok := actionRegistry[a]
	if !ok {
		unknownActions.Inc()
		slog.Warn("unknown action variant", "action", string(a))
	}
	return spec, ok
}
