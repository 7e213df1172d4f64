// Package session holds per-client console state and the orchestrator that
// drives it through the backend.
package session

import (
	"fmt"
	"sync"
	"time"

	"call-analysis-console/internal/backend"
	"call-analysis-console/internal/models"
)

// Stage is the position of a session in the upload/transcribe/analyze flow.
type Stage int

const (
	// StageIdle - nothing staged yet.
	StageIdle Stage = iota
	// StageUploaded - an audio file is staged.
	StageUploaded
	// StageTranscribed - transcripts and utterances are present.
	StageTranscribed
	// StageAnalyzed - an analysis of the transcript is present.
	StageAnalyzed
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "IDLE"
	case StageUploaded:
		return "UPLOADED"
	case StageTranscribed:
		return "TRANSCRIBED"
	case StageAnalyzed:
		return "ANALYZED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// NoticeLevel classifies the outcome message shown after an action.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is the last user-visible outcome.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// Session is one client's in-memory interaction state.
//
// Stage transitions:
//
//	IDLE ──SelectFile──→ UPLOADED ──Transcribe──→ TRANSCRIBED ──Analyze──→ ANALYZED
//	                                                   │                      │
//	                                                   └── StartChat / Ask / DeleteEmbeddings ──┘
//
// The stage is derived from the fields, so it cannot drift from them.
// Callers must hold the session lock while reading or mutating.
type Session struct {
	mu sync.Mutex

	key       string
	id        string
	apiKey    string
	createdAt time.Time
	lastSeen  time.Time

	upload *backend.Upload

	fullTranscript     string
	combinedTranscript string
	utterances         []models.Utterance
	analysisText       string
	chatResponse       string
	embeddingsReady    bool

	notice *Notice
}

func newSession(key string, now time.Time) *Session {
	return &Session{
		key:       key,
		id:        key,
		createdAt: now,
		lastSeen:  now,
	}
}

// Lock serializes actions on the session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// Key is the store key carried in the client cookie. It never changes.
func (s *Session) Key() string { return s.key }

// ID is the correlation id sent to the backend and analytics. It starts equal
// to Key and may be reassigned by the backend on transcription.
func (s *Session) ID() string { return s.id }

func (s *Session) HasAPIKey() bool { return s.apiKey != "" }

func (s *Session) Upload() *backend.Upload { return s.upload }

func (s *Session) FullTranscript() string { return s.fullTranscript }

func (s *Session) CombinedTranscript() string { return s.combinedTranscript }

// Utterances returns a copy of the diarized utterances in speech order.
func (s *Session) Utterances() []models.Utterance {
	return append([]models.Utterance(nil), s.utterances...)
}

func (s *Session) AnalysisText() string { return s.analysisText }

func (s *Session) ChatResponse() string { return s.chatResponse }

func (s *Session) EmbeddingsReady() bool { return s.embeddingsReady }

// Stage derives the flow position from the current fields.
func (s *Session) Stage() Stage {
	switch {
	case s.analysisText != "":
		return StageAnalyzed
	case len(s.utterances) > 0 || s.combinedTranscript != "":
		return StageTranscribed
	case s.upload != nil:
		return StageUploaded
	default:
		return StageIdle
	}
}

// TakeNotice returns and clears the pending notice.
func (s *Session) TakeNotice() *Notice {
	n := s.notice
	s.notice = nil
	return n
}

// SetNotice records the outcome shown on the next render.
func (s *Session) SetNotice(level NoticeLevel, text string) {
	s.notice = &Notice{Level: level, Text: text}
}

func (s *Session) credentials() backend.Credentials {
	return backend.Credentials{APIKey: s.apiKey, SessionID: s.id}
}
