package schema

// RunStatus represents the lifecycle state of a recipe run.
type RunStatus string

const (
	RunStatusPending          RunStatus = "pending"
	RunStatusRunning          RunStatus = "running"
	RunStatusAwaitingApproval RunStatus = "awaiting_approval"
	RunStatusCompleted        RunStatus = "completed"
	RunStatusFailed           RunStatus = "failed"
	RunStatusCancelled        RunStatus = "cancelled"
)

// AllRunStatuses lists every known status in lifecycle order.
var AllRunStatuses = []RunStatus{
	RunStatusPending,
	RunStatusRunning,
	RunStatusAwaitingApproval,
	RunStatusCompleted,
	RunStatusFailed,
	RunStatusCancelled,
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s RunStatus) Valid() bool {
	for _, known := range AllRunStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// StopsPolling reports whether a polling client can stop refreshing the run:
// either it is terminal or it is paused waiting for the user.
func (s RunStatus) StopsPolling() bool {
	return s.IsTerminal() || s == RunStatusAwaitingApproval
}

// NonTerminalStatuses are the statuses a progress write may refresh.
var NonTerminalStatuses = []RunStatus{RunStatusPending, RunStatusRunning, RunStatusAwaitingApproval}

// Phase markers exchanged between a two-phase Definition and the coordinator.
const (
	PhaseScript     = "script"
	PhaseProduction = "production"
)

// Reserved input keys added by the approval gate for phase two.
const (
	InputPhase          = "_phase"
	InputApprovedScenes = "_approved_scenes"
	InputScriptOutputs  = "_script_outputs"
)

// ScriptPhaseSteps is the progress credit a run keeps once its script phase is done.
const ScriptPhaseSteps = 2

// Progress labels written by the engine itself.
const (
	LabelAwaitingApproval = "Waiting for your approval…"
	LabelResumed          = "Generating images…"
	LabelDone             = "Done"
	LabelCancelled        = "Cancelled"
)

// MaxErrorMessageLen bounds error messages persisted on a run.
const MaxErrorMessageLen = 2000

// TruncateError shortens msg to MaxErrorMessageLen runes.
func TruncateError(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxErrorMessageLen {
		return msg
	}
	return string(r[:MaxErrorMessageLen])
}
