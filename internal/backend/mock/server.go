// Package mock provides an in-process fake of the analysis backend for local
// development and tests. It returns a canned diarized call, keeps embeddings
// per User-Session-ID and records every request it sees.
package mock

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"call-analysis-console/internal/models"
)

// DefaultUtterances is the canned call returned by /transcribe.
var DefaultUtterances = []models.Utterance{
	{Speaker: "A", Text: "Thanks for calling, how can I help?"},
	{Speaker: "B", Text: "I want to cancel my subscription."},
	{Speaker: "A", Text: "I can help you with that."},
	{Speaker: "B", Text: "Thank you very much."},
}

// DefaultAnalysis is the canned markdown returned by /analyze.
const DefaultAnalysis = "# Summary\n\nThe customer asked to **cancel** a subscription.\n\n- Sentiment: neutral\n- Resolution: agent assisted\n"

// Request is a recorded call against the fake.
type Request struct {
	Path      string
	APIKey    string
	HasAPIKey bool
	SessionID string
	Body      []byte
	FileName  string
}

// Options tune the fake.
type Options struct {
	// RequiredAPIKey rejects requests whose API-Key differs with 401.
	RequiredAPIKey string
	// AssignUserID is returned as user_id from /transcribe when set.
	AssignUserID string
	// Failures maps an endpoint path to a forced error message (status 500).
	Failures map[string]string
}

// Server is the fake backend.
type Server struct {
	opts Options

	mu         sync.Mutex
	requests   []Request
	embeddings map[string][]models.Utterance
}

// New creates a fake backend.
func New(opts Options) *Server {
	return &Server{
		opts:       opts,
		embeddings: make(map[string][]models.Utterance),
	}
}

// Handler returns the HTTP surface of the fake.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record, s.authorize, s.inject)
	r.Post("/transcribe", s.transcribe)
	r.Post("/analyze", s.analyze)
	r.Post("/create_embeddings", s.createEmbeddings)
	r.Post("/ask", s.ask)
	r.Post("/delete_embeddings", s.deleteEmbeddings)
	return r
}

// Requests returns a copy of the recorded requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request{}, s.requests...)
}

// SetFailure forces endpoint to fail with message; an empty message clears it.
func (s *Server) SetFailure(endpoint, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.Failures == nil {
		s.opts.Failures = make(map[string]string)
	}
	if message == "" {
		delete(s.opts.Failures, endpoint)
		return
	}
	s.opts.Failures[endpoint] = message
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{
			Path:      r.URL.Path,
			APIKey:    r.Header.Get("API-Key"),
			SessionID: r.Header.Get("User-Session-ID"),
		}
		_, req.HasAPIKey = r.Header[http.CanonicalHeaderKey("API-Key")]

		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(32 << 20); err == nil {
				if f, hdr, err := r.FormFile("file"); err == nil {
					req.FileName = hdr.Filename
					req.Body, _ = io.ReadAll(f)
					f.Close()
				}
			}
		} else if r.Body != nil {
			req.Body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(strings.NewReader(string(req.Body)))
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		log.Debug().Str("path", req.Path).Str("sessionId", req.SessionID).Msg("mock backend request")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.RequiredAPIKey != "" && r.Header.Get("API-Key") != s.opts.RequiredAPIKey {
			writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid API key."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		msg, ok := s.opts.Failures[r.URL.Path]
		s.mu.Unlock()
		if ok {
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: msg})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) transcribe(w http.ResponseWriter, r *http.Request) {
	if r.MultipartForm == nil || len(r.MultipartForm.File["file"]) == 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "No file uploaded."})
		return
	}

	texts := make([]string, 0, len(DefaultUtterances))
	for _, u := range DefaultUtterances {
		texts = append(texts, u.Text)
	}
	combined := strings.Join(texts, " ")

	writeJSON(w, http.StatusOK, models.TranscribeResponse{
		FullTranscript:     combined,
		CombinedTranscript: combined,
		Utterances:         DefaultUtterances,
		UserID:             s.opts.AssignUserID,
	})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Transcript) == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "No transcript provided."})
		return
	}
	writeJSON(w, http.StatusOK, models.AnalyzeResponse{Analysis: DefaultAnalysis})
}

func (s *Server) createEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEmbeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Utterances) == 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "No utterances provided."})
		return
	}
	s.mu.Lock()
	s.embeddings[r.Header.Get("User-Session-ID")] = req.Utterances
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "No query provided."})
		return
	}

	s.mu.Lock()
	utterances, ok := s.embeddings[r.Header.Get("User-Session-ID")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Embeddings not found. Start the AI chat first."})
		return
	}

	// Naive retrieval: first utterance sharing a word with the query.
	answer := fmt.Sprintf("No part of the call matches %q.", req.Query)
	words := strings.Fields(strings.ToLower(req.Query))
	for _, u := range utterances {
		text := strings.ToLower(u.Text)
		for _, word := range words {
			if len(word) > 3 && strings.Contains(text, word) {
				writeJSON(w, http.StatusOK, models.AskResponse{Response: fmt.Sprintf("%s said: %s", u.Speaker, u.Text)})
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, models.AskResponse{Response: answer})
}

func (s *Server) deleteEmbeddings(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.embeddings, r.Header.Get("User-Session-ID"))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, models.DeleteEmbeddingsResponse{Message: "Embeddings deleted."})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
