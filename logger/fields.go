package logger

// Canonical field names for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"

	FieldPlatform = "platform"
	FieldChannel  = "channel"
	FieldName     = "name"
	FieldKey      = "key"

	FieldRecordingID = "recording_id"
	FieldTitle       = "title"
	FieldFile        = "file"
	FieldSize        = "size"
	FieldDuration    = "duration"
	FieldTrigger     = "trigger"
	FieldReason      = "reason"

	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldInterval = "interval"
)
