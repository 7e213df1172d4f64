package models

// Analytics event names emitted by the orchestrator.
const (
	EventFileUploaded = "FileUploaded"

	EventTranscriptionStarted   = "TranscriptionStarted"
	EventTranscriptionCompleted = "TranscriptionCompleted"
	EventTranscriptionFailed    = "TranscriptionFailed"
	EventTranscriptionException = "TranscriptionException"

	EventAnalysisStarted   = "AnalysisStarted"
	EventAnalysisCompleted = "AnalysisCompleted"
	EventAnalysisFailed    = "AnalysisFailed"
	EventAnalysisException = "AnalysisException"

	EventEmbeddingsCreated           = "EmbeddingsCreated"
	EventEmbeddingsCreationFailed    = "EmbeddingsCreationFailed"
	EventEmbeddingsCreationException = "EmbeddingsCreationException"

	EventQuerySuccess   = "QuerySuccess"
	EventQueryFailed    = "QueryFailed"
	EventQueryException = "QueryException"

	EventEmbeddingsDeleted           = "EmbeddingsDeleted"
	EventEmbeddingsDeletionFailed    = "EmbeddingsDeletionFailed"
	EventEmbeddingsDeletionException = "EmbeddingsDeletionException"
)

// AnalyticsEvent is the envelope written to the Kafka analytics topic.
type AnalyticsEvent struct {
	EventType  string         `json:"eventType"`
	UserID     string         `json:"userId"`
	Timestamp  int64          `json:"timestamp"`
	Properties map[string]any `json:"properties"`
}
