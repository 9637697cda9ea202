package dispatch

import (
	"github.com/rajeee/chatdf/internal/models"
)

// FrameType enumerates the server event kinds the client understands.
type FrameType string

const (
	FrameReasoningToken           FrameType = "reasoning_token"
	FrameReasoningComplete        FrameType = "reasoning_complete"
	FrameChatToken                FrameType = "chat_token"
	FrameChatComplete             FrameType = "chat_complete"
	FrameChatError                FrameType = "chat_error"
	FrameToolCallStart            FrameType = "tool_call_start"
	FrameToolCallStartShort       FrameType = "tcs"
	FrameDatasetLoaded            FrameType = "dataset_loaded"
	FrameDatasetError             FrameType = "dataset_error"
	FrameUsageUpdate              FrameType = "usage_update"
	FrameRateLimitWarning         FrameType = "rate_limit_warning"
	FrameConversationTitleUpdated FrameType = "conversation_title_updated"
)

// TokenPayload is carried by reasoning_token and chat_token.
type TokenPayload struct {
	Token     string `json:"token"`
	MessageID string `json:"message_id,omitempty"`
}

// ChatCompletePayload closes the streamed assistant message.
type ChatCompletePayload struct {
	MessageID     string                `json:"message_id,omitempty"`
	SQLQuery      *string               `json:"sql_query,omitempty"`
	SQLExecutions []models.SQLExecution `json:"sql_executions,omitempty"`
	Reasoning     *string               `json:"reasoning,omitempty"`
	ToolCallTrace []models.ToolCall     `json:"tool_call_trace,omitempty"`
}

// ChatErrorPayload aborts the streamed message.
type ChatErrorPayload struct {
	Error string `json:"error"`
}

// ToolCallStartPayload previews a tool call the assistant is about to run.
type ToolCallStartPayload struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// DatasetLoadedPayload announces a dataset that finished loading.
type DatasetLoadedPayload struct {
	Dataset models.Dataset `json:"dataset"`
}

// DatasetErrorPayload reports a dataset that failed to load.
type DatasetErrorPayload struct {
	DatasetID string `json:"dataset_id"`
	Error     string `json:"error"`
}

// RateLimitWarningPayload warns that usage is approaching or past the limit.
type RateLimitWarningPayload struct {
	DailyLimitReached bool `json:"daily_limit_reached,omitempty"`
}
