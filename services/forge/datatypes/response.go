package datatypes

// AgentResponse is the pipeline's answer to one processed prompt.
type AgentResponse struct {
	Result   string           `json:"result"`
	Metadata ResponseMetadata `json:"metadata"`
}

// ResponseMetadata carries per-request observability facts.
type ResponseMetadata struct {
	TraceID            string   `json:"trace_id"`
	CacheHit           bool     `json:"cache_hit"`
	ProcessingTimeMS   int64    `json:"processing_time_ms"`
	TokensUsed         int      `json:"tokens_used"`
	AgentsInvoked      []string `json:"agents_invoked"`
	WorkflowIterations int      `json:"workflow_iterations"`
}
