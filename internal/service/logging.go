package service

// Standard logging field names, used verbatim across the application so log
// aggregation can key on them.
const (
	LogFieldMessageID = "message_id"
	LogFieldTenantID  = "tenant_id"
	LogFieldChannelID = "channel_id"
	LogFieldStatus    = "status"

	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldDuration   = "duration_ms"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldSize       = "size_bytes"
)
