package ir

// Version constants for the payload format and engine.
const (
	// PayloadVersion is the canonical payload schema version.
	PayloadVersion = "1"

	// EngineVersion is the nodebook engine version.
	EngineVersion = "0.2.0"
)
