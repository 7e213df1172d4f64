// Package models defines the wire types exchanged with the analysis backend.
package models

// Utterance is one diarized speech segment.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// TranscribeResponse is the success body of POST /transcribe.
type TranscribeResponse struct {
	FullTranscript     string      `json:"full_transcript"`
	CombinedTranscript string      `json:"combined_transcript"`
	Utterances         []Utterance `json:"utterances"`
	UserID             string      `json:"user_id,omitempty"`
}

type AnalyzeRequest struct {
	Transcript string `json:"transcript"`
}

// AnalyzeResponse carries markdown produced by the backend.
type AnalyzeResponse struct {
	Analysis string `json:"analysis"`
}

type CreateEmbeddingsRequest struct {
	Utterances []Utterance `json:"utterances"`
}

type AskRequest struct {
	Query string `json:"query"`
}

type AskResponse struct {
	Response string `json:"response"`
}

type DeleteEmbeddingsResponse struct {
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the body of any non-200 backend response.
type ErrorResponse struct {
	Error string `json:"error"`
}
