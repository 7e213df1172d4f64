package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"call-analysis-console/internal/analytics"
	"call-analysis-console/internal/backend"
	"call-analysis-console/internal/models"
	"call-analysis-console/internal/observability/logging"
	"call-analysis-console/internal/observability/metrics"
)

// Operation names, used for logs and metrics.
const (
	OpSelectFile       = "select_file"
	OpTranscribe       = "transcribe"
	OpAnalyze          = "analyze"
	OpStartChat        = "start_chat"
	OpAsk              = "ask"
	OpDeleteEmbeddings = "delete_embeddings"
)

// ValidationError is an action rejected locally: no backend call is made and
// no analytics event is emitted.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validation errors.
var (
	ErrUnsupportedFileType = &ValidationError{Message: "Unsupported file type. Upload a wav, mp3 or m4a file."}
	ErrEmptyFile           = &ValidationError{Message: "The uploaded file is empty."}
	ErrFileTooLarge        = &ValidationError{Message: "The uploaded file is too large."}
	ErrNoFile              = &ValidationError{Message: "Upload an audio file first."}
	ErrNoTranscript        = &ValidationError{Message: "Transcribe a call before analyzing it."}
	ErrNoUtterances        = &ValidationError{Message: "No utterances available. Transcribe a call first."}
	ErrEmbeddingsActive    = &ValidationError{Message: "AI chat is already active."}
	ErrEmbeddingsNotReady  = &ValidationError{Message: "Start the AI chat first."}
	ErrBlankQuery          = &ValidationError{Message: "Please enter a question."}
	ErrFeatureDisabled     = &ValidationError{Message: "AI chat is not available."}
)

// AllowedExtensions are the accepted audio upload types.
var AllowedExtensions = map[string]bool{
	".wav": true,
	".mp3": true,
	".m4a": true,
}

// Backend is the remote API the orchestrator drives.
type Backend interface {
	Transcribe(ctx context.Context, creds backend.Credentials, up backend.Upload) (*models.TranscribeResponse, error)
	Analyze(ctx context.Context, creds backend.Credentials, transcript string) (*models.AnalyzeResponse, error)
	CreateEmbeddings(ctx context.Context, creds backend.Credentials, utterances []models.Utterance) error
	Ask(ctx context.Context, creds backend.Credentials, query string) (*models.AskResponse, error)
	DeleteEmbeddings(ctx context.Context, creds backend.Credentials) (*models.DeleteEmbeddingsResponse, error)
}

// Options configure the orchestrator.
type Options struct {
	EmbeddingsEnabled bool
	MaxUploadBytes    int64
	Metrics           *metrics.Metrics
}

// Orchestrator applies user actions to a Session. It holds only read-only
// collaborators; all mutable state lives in the Session passed to each call,
// and the caller must hold that session's lock.
//
// Every action either fully applies its state change or leaves the session
// as it was. Failures never retry.
type Orchestrator struct {
	backend Backend
	events  analytics.Emitter
	opts    Options
	metrics *metrics.Metrics
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(b Backend, events analytics.Emitter, opts Options) *Orchestrator {
	m := opts.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Orchestrator{
		backend: b,
		events:  events,
		opts:    opts,
		metrics: m,
	}
}

// EmbeddingsEnabled reports whether the chat feature is on.
func (o *Orchestrator) EmbeddingsEnabled() bool {
	return o.opts.EmbeddingsEnabled
}

// SetAPIKey stores the user-supplied API key.
func (o *Orchestrator) SetAPIKey(s *Session, key string) {
	s.apiKey = strings.TrimSpace(key)
	if s.apiKey == "" {
		s.SetNotice(NoticeSuccess, "API key cleared.")
		return
	}
	s.SetNotice(NoticeSuccess, "API key saved.")
}

// SelectFile stages an audio file for transcription.
func (o *Orchestrator) SelectFile(ctx context.Context, s *Session, name, contentType string, data []byte) error {
	if !AllowedExtensions[strings.ToLower(filepath.Ext(name))] {
		return o.invalid(s, OpSelectFile, ErrUnsupportedFileType)
	}
	if len(data) == 0 {
		return o.invalid(s, OpSelectFile, ErrEmptyFile)
	}
	if o.opts.MaxUploadBytes > 0 && int64(len(data)) > o.opts.MaxUploadBytes {
		return o.invalid(s, OpSelectFile, ErrFileTooLarge)
	}

	s.upload = &backend.Upload{Name: filepath.Base(name), ContentType: contentType, Data: data}
	o.metrics.RecordUpload(len(data))
	o.events.Emit(ctx, s.id, models.EventFileUploaded, map[string]any{
		"file_name": s.upload.Name,
		"file_type": contentType,
	})
	return o.succeed(s, OpSelectFile, "File uploaded.")
}

// Transcribe sends the staged file to the backend and stores the transcripts.
func (o *Orchestrator) Transcribe(ctx context.Context, s *Session) error {
	if s.upload == nil {
		return o.invalid(s, OpTranscribe, ErrNoFile)
	}
	fileName := s.upload.Name

	o.events.Emit(ctx, s.id, models.EventTranscriptionStarted, map[string]any{"file_name": fileName})

	resp, err := o.backend.Transcribe(ctx, s.credentials(), *s.upload)
	if err != nil {
		return o.fail(ctx, s, OpTranscribe, err,
			models.EventTranscriptionFailed, models.EventTranscriptionException,
			map[string]any{"file_name": fileName})
	}

	s.fullTranscript = resp.FullTranscript
	s.combinedTranscript = resp.CombinedTranscript
	s.utterances = append([]models.Utterance(nil), resp.Utterances...)
	s.analysisText = ""
	s.chatResponse = ""

	if resp.UserID != "" && resp.UserID != s.id {
		l := logging.WithOperation(s.id, OpTranscribe)
		l.Info().Str("assignedId", resp.UserID).Msg("Adopting backend-assigned session id")
		s.id = resp.UserID
	}

	o.events.Emit(ctx, s.id, models.EventTranscriptionCompleted, map[string]any{
		"file_name":       fileName,
		"utterance_count": len(s.utterances),
	})
	return o.succeed(s, OpTranscribe, "Transcription completed.")
}

// Analyze requests an analysis of the combined transcript.
func (o *Orchestrator) Analyze(ctx context.Context, s *Session) error {
	if s.combinedTranscript == "" {
		return o.invalid(s, OpAnalyze, ErrNoTranscript)
	}
	props := map[string]any{"transcript_length": len(s.combinedTranscript)}

	o.events.Emit(ctx, s.id, models.EventAnalysisStarted, props)

	resp, err := o.backend.Analyze(ctx, s.credentials(), s.combinedTranscript)
	if err != nil {
		return o.fail(ctx, s, OpAnalyze, err, models.EventAnalysisFailed, models.EventAnalysisException, props)
	}

	s.analysisText = resp.Analysis
	o.events.Emit(ctx, s.id, models.EventAnalysisCompleted, props)
	return o.succeed(s, OpAnalyze, "Analysis completed.")
}

// StartChat creates embeddings of the utterances so questions can be asked.
func (o *Orchestrator) StartChat(ctx context.Context, s *Session) error {
	if !o.opts.EmbeddingsEnabled {
		return o.invalid(s, OpStartChat, ErrFeatureDisabled)
	}
	if s.embeddingsReady {
		return o.invalid(s, OpStartChat, ErrEmbeddingsActive)
	}
	if len(s.utterances) == 0 {
		return o.invalid(s, OpStartChat, ErrNoUtterances)
	}
	props := map[string]any{"utterance_count": len(s.utterances)}

	if err := o.backend.CreateEmbeddings(ctx, s.credentials(), s.Utterances()); err != nil {
		return o.fail(ctx, s, OpStartChat, err,
			models.EventEmbeddingsCreationFailed, models.EventEmbeddingsCreationException, props)
	}

	s.embeddingsReady = true
	o.events.Emit(ctx, s.id, models.EventEmbeddingsCreated, props)
	return o.succeed(s, OpStartChat, "AI chat is ready. Ask a question about the call.")
}

// Ask sends a question about the call.
func (o *Orchestrator) Ask(ctx context.Context, s *Session, query string) error {
	if !o.opts.EmbeddingsEnabled {
		return o.invalid(s, OpAsk, ErrFeatureDisabled)
	}
	if !s.embeddingsReady {
		return o.invalid(s, OpAsk, ErrEmbeddingsNotReady)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return o.invalid(s, OpAsk, ErrBlankQuery)
	}
	props := map[string]any{"query_length": len(query)}

	resp, err := o.backend.Ask(ctx, s.credentials(), query)
	if err != nil {
		return o.fail(ctx, s, OpAsk, err, models.EventQueryFailed, models.EventQueryException, props)
	}

	s.chatResponse = resp.Response
	o.events.Emit(ctx, s.id, models.EventQuerySuccess, props)
	return o.succeed(s, OpAsk, "")
}

// DeleteEmbeddings removes the call's embeddings and ends the chat.
func (o *Orchestrator) DeleteEmbeddings(ctx context.Context, s *Session) error {
	if !o.opts.EmbeddingsEnabled {
		return o.invalid(s, OpDeleteEmbeddings, ErrFeatureDisabled)
	}
	if !s.embeddingsReady {
		return o.invalid(s, OpDeleteEmbeddings, ErrEmbeddingsNotReady)
	}

	resp, err := o.backend.DeleteEmbeddings(ctx, s.credentials())
	if err != nil {
		return o.fail(ctx, s, OpDeleteEmbeddings, err,
			models.EventEmbeddingsDeletionFailed, models.EventEmbeddingsDeletionException, nil)
	}

	s.embeddingsReady = false
	s.chatResponse = ""
	o.events.Emit(ctx, s.id, models.EventEmbeddingsDeleted, nil)

	msg := "Embeddings deleted."
	if resp != nil && resp.Message != "" {
		msg = resp.Message
	}
	return o.succeed(s, OpDeleteEmbeddings, msg)
}

func (o *Orchestrator) succeed(s *Session, op, message string) error {
	o.metrics.RecordAction(op, "success")
	if message != "" {
		s.SetNotice(NoticeSuccess, message)
	}
	l := logging.WithOperation(s.id, op)
	l.Info().Str("stage", s.Stage().String()).Msg("Action completed")
	return nil
}

func (o *Orchestrator) invalid(s *Session, op string, err *ValidationError) error {
	o.metrics.RecordAction(op, "invalid")
	s.SetNotice(NoticeError, err.Message)
	l := logging.WithOperation(s.id, op)
	l.Debug().Str("reason", err.Message).Msg("Action rejected")
	return err
}

// fail classifies a backend error: an error reply emits failedEvent, anything
// else (network, timeout, malformed body) emits exceptionEvent.
func (o *Orchestrator) fail(ctx context.Context, s *Session, op string, err error, failedEvent, exceptionEvent string, props map[string]any) error {
	event, outcome := exceptionEvent, "exception"
	var be *backend.Error
	if errors.As(err, &be) {
		event, outcome = failedEvent, "failed"
	}

	p := make(map[string]any, len(props)+1)
	for k, v := range props {
		p[k] = v
	}
	p["error"] = err.Error()
	o.events.Emit(ctx, s.id, event, p)

	o.metrics.RecordAction(op, outcome)
	s.SetNotice(NoticeError, err.Error())
	l := logging.WithOperation(s.id, op)
	l.Warn().Err(err).Str("outcome", outcome).Msg("Action failed")
	return err
}
