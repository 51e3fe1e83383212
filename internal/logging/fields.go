package logging

// Standardized structured logging keys.
const (
	FieldComponent = "component"
	FieldProject   = "project"
	FieldAssetUUID = "asset_uuid"
	FieldJobID     = "job_id"
	FieldProfile   = "profile"
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step an operator can take.
	FieldErrorHint = "error_hint"
	// FieldImpact states the user-facing consequence of a warning.
	FieldImpact = "impact"
)
