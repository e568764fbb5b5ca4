package schema

// Event types published on the run stream.
const (
	EventRunCreated          = "run_created"
	EventRunStarted          = "run_started"
	EventRunProgress         = "run_progress"
	EventRunAwaitingApproval = "run_awaiting_approval"
	EventRunResumed          = "run_resumed"
	EventRunCompleted        = "run_completed"
	EventRunFailed           = "run_failed"
	EventRunCancelled        = "run_cancelled"
	EventRunReaped           = "run_reaped"
)
