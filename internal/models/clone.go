package models

import "slices"

// Clone returns a deep copy of m that shares no memory with it.
func (m Message) Clone() Message {
	out := m
	out.Reasoning = clonePtr(m.Reasoning)
	out.Error = clonePtr(m.Error)
	if m.SQLExecutions != nil {
		out.SQLExecutions = make([]SQLExecution, len(m.SQLExecutions))
		for i, e := range m.SQLExecutions {
			out.SQLExecutions[i] = e.Clone()
		}
	}
	if m.ToolCallTrace != nil {
		out.ToolCallTrace = make([]ToolCall, len(m.ToolCallTrace))
		for i, c := range m.ToolCallTrace {
			out.ToolCallTrace[i] = c.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of e.
func (e SQLExecution) Clone() SQLExecution {
	out := e
	out.Columns = slices.Clone(e.Columns)
	out.ChartSpec = slices.Clone(e.ChartSpec)
	out.TotalRows = clonePtr(e.TotalRows)
	out.Error = clonePtr(e.Error)
	out.ExecutionTimeMs = clonePtr(e.ExecutionTimeMs)
	if e.Rows != nil {
		out.Rows = make([][]any, len(e.Rows))
		for i, row := range e.Rows {
			out.Rows[i] = cloneSlice(row)
		}
	}
	return out
}

// Clone returns a deep copy of c.
func (c ToolCall) Clone() ToolCall {
	out := c
	out.Args = cloneMap(c.Args)
	out.Result = clonePtr(c.Result)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// cloneValue copies the map and slice shapes decoded JSON produces.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		return cloneSlice(v)
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneSlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = cloneValue(v)
	}
	return out
}
