package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest asks for one agent's call metrics over a range.
// Calls are placed in the range by when they ended.
type CallsSummaryRequest struct {
	AgentIdentity string    `json:"agent_identity"`
	Range         TimeRange `json:"range"`
}

type CallsSummary struct {
	AgentIdentity string    `json:"agent_identity"`
	Range         TimeRange `json:"range"`

	TotalCalls    int `json:"total_calls"`
	InboundCalls  int `json:"inbound_calls"`
	OutboundCalls int `json:"outbound_calls"`

	CompletedCalls int `json:"completed_calls"`
	MissedCalls    int `json:"missed_calls"`
	RejectedCalls  int `json:"rejected_calls"`
	FailedCalls    int `json:"failed_calls"`
	CanceledCalls  int `json:"canceled_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// AnswerRate is completed inbound calls over all inbound offers.
	AnswerRate float64 `json:"answer_rate"`
}
