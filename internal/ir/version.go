package ir

// Version constants for persisted data and the engine.
const (
	// SnapshotVersion is the schema version of persisted snapshots.
	// Snapshots with a different version are discarded on load.
	SnapshotVersion = 1

	// EngineVersion is the offsync engine version.
	EngineVersion = "0.1.0"
)
