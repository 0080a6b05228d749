package log

// Canonical field names for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"
	FieldTraceID   = "trace_id"

	FieldTopic   = "topic"
	FieldCommand = "command"
	FieldToken   = "token"
	FieldDriver  = "driver"
	FieldBroker  = "broker"

	FieldChatID = "chat_id"
	FieldUserID = "user_id"
	FieldSource = "source"
)
