package model

// Payloads carried in Process.Payload, keyed by action.

// CrackPayload has no parameters today; credential TTL is engine policy.
type CrackPayload struct{}

// TransferPayload moves Amount minor units between bank accounts.
type TransferPayload struct {
	FromAccount int64 `json:"from_account"`
	ToAccount   int64 `json:"to_account"`
	Amount      int64 `json:"amount"`
}

// FilePayload names the software instance a Download/Upload moves.
type FilePayload struct {
	SoftwareID int64 `json:"software_id"`
}

// DeleteLogPayload tombstones the given entries on the target.
type DeleteLogPayload struct {
	LogIDs []int64 `json:"log_ids"`
}

// VirusPayload names the installed virus a CollectYield sweeps.
type VirusPayload struct {
	SoftwareID int64 `json:"software_id"`
}

// ObjectivePayload advances a mission objective counter.
type ObjectivePayload struct {
	UserMissionID int64 `json:"user_mission_id"`
	ObjectiveID   int64 `json:"objective_id"`
	Quantity      int   `json:"quantity"`
}
