package messagequeue

// InvestigationStartedPayload is the schema for investigations.started messages.
type InvestigationStartedPayload struct {
	InvestigationID string `json:"investigation_id"`
	ConversationID  string `json:"conversation_id"`
	Alert           string `json:"alert"`
}

// InvestigationRetriedPayload is the schema for investigations.retried messages.
type InvestigationRetriedPayload struct {
	InvestigationID string `json:"investigation_id"`
	Attempt         int    `json:"attempt"`
	Error           string `json:"error"`
}

// InvestigationCompletedPayload is the schema for investigations.completed messages.
type InvestigationCompletedPayload struct {
	InvestigationID string  `json:"investigation_id"`
	Attempt         int     `json:"attempt"`
	StepCount       int     `json:"step_count"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
}

// InvestigationFailedPayload is the schema for investigations.failed messages.
type InvestigationFailedPayload struct {
	InvestigationID string `json:"investigation_id"`
	Attempts        int    `json:"attempts"`
	Error           string `json:"error"`
}
