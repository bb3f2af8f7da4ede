package pipeline

import "time"

// Job lifecycle event names.
const (
	EventJobCompleted  = "import_job.completed"
	EventJobFailed     = "import_job.failed"
	EventJobFinalized  = "import_job.finalized"
	EventJobRolledBack = "import_job.rolled_back"
)

// DefaultRollbackGrace is used when Config.RollbackGrace is not set.
const DefaultRollbackGrace = 72 * time.Hour
