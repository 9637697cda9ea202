// Package models defines the data structures shared by the chatdf session layer.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is the server-side chat thread messages are posted to.
type Conversation struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Message is a finalized chat message. Once appended to a store it is
// never modified, except for SendFailed on optimistic user messages.
type Message struct {
	ID            string         `json:"id" yaml:"id"`
	Role          Role           `json:"role" yaml:"role"`
	Content       string         `json:"content" yaml:"content"`
	SQLExecutions []SQLExecution `json:"sql_executions,omitempty" yaml:"sql_executions,omitempty"`
	Reasoning     *string        `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	ToolCallTrace []ToolCall     `json:"tool_call_trace,omitempty" yaml:"tool_call_trace,omitempty"`
	Error         *string        `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at" yaml:"created_at"`
	SendFailed    bool           `json:"send_failed,omitempty" yaml:"send_failed,omitempty"`
}

// SQLExecution is one query the assistant ran while answering.
type SQLExecution struct {
	Query           string          `json:"query" yaml:"query"`
	Columns         []string        `json:"columns,omitempty" yaml:"columns,omitempty"`
	Rows            [][]any         `json:"rows,omitempty" yaml:"rows,omitempty"`
	TotalRows       *int            `json:"total_rows,omitempty" yaml:"total_rows,omitempty"`
	ChartSpec       json.RawMessage `json:"chart_spec,omitempty" yaml:"-"`
	Error           *string         `json:"error,omitempty" yaml:"error,omitempty"`
	ExecutionTimeMs *float64        `json:"execution_time_ms,omitempty" yaml:"execution_time_ms,omitempty"`
}

// ToolCall is a tool invocation, either an in-flight preview or a
// completed entry of a message's trace.
type ToolCall struct {
	Tool   string         `json:"tool" yaml:"tool"`
	Args   map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Result *string        `json:"result,omitempty" yaml:"result,omitempty"`
}
