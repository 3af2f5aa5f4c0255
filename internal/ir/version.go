package ir

// Version constants for the change-set format and engine.
const (
	// ChangeSetVersion is the journal change-set format. A journal records
	// it in SQLite's user_version and is only reopened by the same format.
	ChangeSetVersion = 1

	// EngineVersion is the PVM engine version.
	EngineVersion = "0.1.0"
)
