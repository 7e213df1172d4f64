package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"call-analysis-console/internal/analytics"
	"call-analysis-console/internal/backend"
	"call-analysis-console/internal/models"
	"call-analysis-console/internal/observability/metrics"
)

// fakeBackend implements Backend for testing.
type fakeBackend struct {
	calls []string
	creds []backend.Credentials

	transcribe *models.TranscribeResponse
	analysis   string
	answer     string
	err        map[string]error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		transcribe: &models.TranscribeResponse{
			FullTranscript:     "Hi there.",
			CombinedTranscript: "Hi there.",
			Utterances: []models.Utterance{
				{Speaker: "A", Text: "Hi"},
				{Speaker: "B", Text: "there."},
			},
		},
		analysis: "# Summary\n...",
		answer:   "A greeted B.",
		err:      map[string]error{},
	}
}

func (f *fakeBackend) record(op string, creds backend.Credentials) error {
	f.calls = append(f.calls, op)
	f.creds = append(f.creds, creds)
	return f.err[op]
}

func (f *fakeBackend) Transcribe(_ context.Context, creds backend.Credentials, _ backend.Upload) (*models.TranscribeResponse, error) {
	if err := f.record(OpTranscribe, creds); err != nil {
		return nil, err
	}
	return f.transcribe, nil
}

func (f *fakeBackend) Analyze(_ context.Context, creds backend.Credentials, _ string) (*models.AnalyzeResponse, error) {
	if err := f.record(OpAnalyze, creds); err != nil {
		return nil, err
	}
	return &models.AnalyzeResponse{Analysis: f.analysis}, nil
}

func (f *fakeBackend) CreateEmbeddings(_ context.Context, creds backend.Credentials, _ []models.Utterance) error {
	return f.record(OpStartChat, creds)
}

func (f *fakeBackend) Ask(_ context.Context, creds backend.Credentials, _ string) (*models.AskResponse, error) {
	if err := f.record(OpAsk, creds); err != nil {
		return nil, err
	}
	return &models.AskResponse{Response: f.answer}, nil
}

func (f *fakeBackend) DeleteEmbeddings(_ context.Context, creds backend.Credentials) (*models.DeleteEmbeddingsResponse, error) {
	if err := f.record(OpDeleteEmbeddings, creds); err != nil {
		return nil, err
	}
	return &models.DeleteEmbeddingsResponse{}, nil
}

type emitted struct {
	userID string
	event  string
	props  map[string]any
}

// recordingEmitter implements analytics.Emitter for testing.
type recordingEmitter struct {
	events []emitted
}

func (r *recordingEmitter) Emit(_ context.Context, userID, event string, props map[string]any) {
	r.events = append(r.events, emitted{userID, event, props})
}

func (r *recordingEmitter) names() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.event)
	}
	return out
}

func (r *recordingEmitter) last() emitted {
	return r.events[len(r.events)-1]
}

func newTestOrchestrator(b Backend, e analytics.Emitter) *Orchestrator {
	return NewOrchestrator(b, e, Options{
		EmbeddingsEnabled: true,
		MaxUploadBytes:    1024,
		Metrics:           metrics.NewMetrics(prometheus.NewRegistry()),
	})
}

func newTestSession() *Session {
	return newSession("sess-1", time.Now())
}

func transcribed(t *testing.T, o *Orchestrator, s *Session) {
	t.Helper()
	ctx := context.Background()
	if err := o.SelectFile(ctx, s, "call.wav", "audio/wav", []byte("RIFF")); err != nil {
		t.Fatalf("select file: %v", err)
	}
	if err := o.Transcribe(ctx, s); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
}

func assertValidation(t *testing.T, err error, want *ValidationError) {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T %v", err, err)
	}
	if !errors.Is(err, want) {
		t.Errorf("expected %q, got %q", want.Message, ve.Message)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSession_InitialState(t *testing.T) {
	s := newTestSession()

	if s.Stage() != StageIdle {
		t.Errorf("expected StageIdle, got %v", s.Stage())
	}
	if s.ID() != s.Key() {
		t.Errorf("expected id to start equal to key")
	}
	if s.EmbeddingsReady() || s.HasAPIKey() || len(s.Utterances()) != 0 {
		t.Error("expected empty defaults")
	}
}

func TestOrchestrator_SelectFile(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		want *ValidationError
	}{
		{"wav", "call.wav", []byte("x"), nil},
		{"mp3 upper", "CALL.MP3", []byte("x"), nil},
		{"m4a", "dir/call.m4a", []byte("x"), nil},
		{"ogg", "call.ogg", []byte("x"), ErrUnsupportedFileType},
		{"no extension", "call", []byte("x"), ErrUnsupportedFileType},
		{"empty", "call.wav", nil, ErrEmptyFile},
		{"too large", "call.wav", make([]byte, 2048), ErrFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := &recordingEmitter{}
			o := newTestOrchestrator(newFakeBackend(), em)
			s := newTestSession()

			err := o.SelectFile(context.Background(), s, tt.file, "audio/x", tt.data)

			if tt.want != nil {
				assertValidation(t, err, tt.want)
				if len(em.events) != 0 {
					t.Errorf("expected no events on validation error, got %v", em.names())
				}
				if s.Stage() != StageIdle {
					t.Errorf("expected StageIdle, got %v", s.Stage())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Stage() != StageUploaded {
				t.Errorf("expected StageUploaded, got %v", s.Stage())
			}
			if !equalStrings(em.names(), []string{models.EventFileUploaded}) {
				t.Errorf("unexpected events %v", em.names())
			}
		})
	}
}

func TestOrchestrator_Transcribe_SetsFieldsTogether(t *testing.T) {
	fb := newFakeBackend()
	em := &recordingEmitter{}
	o := newTestOrchestrator(fb, em)
	s := newTestSession()

	transcribed(t, o, s)

	if s.FullTranscript() != "Hi there." || s.CombinedTranscript() != "Hi there." {
		t.Errorf("unexpected transcripts %q / %q", s.FullTranscript(), s.CombinedTranscript())
	}
	u := s.Utterances()
	if len(u) != 2 || u[0].Speaker != "A" || u[1].Text != "there." {
		t.Errorf("unexpected utterances %+v", u)
	}
	if s.Stage() != StageTranscribed {
		t.Errorf("expected StageTranscribed, got %v", s.Stage())
	}
	want := []string{models.EventFileUploaded, models.EventTranscriptionStarted, models.EventTranscriptionCompleted}
	if !equalStrings(em.names(), want) {
		t.Errorf("expected events %v, got %v", want, em.names())
	}
	if n := s.TakeNotice(); n == nil || n.Level != NoticeSuccess {
		t.Errorf("expected success notice, got %+v", n)
	}
}

func TestOrchestrator_Transcribe_RequiresFile(t *testing.T) {
	fb := newFakeBackend()
	o := newTestOrchestrator(fb, &recordingEmitter{})

	err := o.Transcribe(context.Background(), newTestSession())

	assertValidation(t, err, ErrNoFile)
	if len(fb.calls) != 0 {
		t.Errorf("expected no backend calls, got %v", fb.calls)
	}
}

func TestOrchestrator_Transcribe_AdoptsBackendID(t *testing.T) {
	fb := newFakeBackend()
	fb.transcribe.UserID = "backend-42"
	em := &recordingEmitter{}
	o := newTestOrchestrator(fb, em)
	s := newTestSession()

	transcribed(t, o, s)
	if err := o.Analyze(context.Background(), s); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if s.ID() != "backend-42" {
		t.Fatalf("expected adopted id, got %s", s.ID())
	}
	if s.Key() != "sess-1" {
		t.Errorf("store key must not change, got %s", s.Key())
	}
	if fb.creds[0].SessionID != "sess-1" {
		t.Errorf("transcribe should use original id, got %s", fb.creds[0].SessionID)
	}
	if fb.creds[1].SessionID != "backend-42" {
		t.Errorf("later calls should use adopted id, got %s", fb.creds[1].SessionID)
	}
	if em.last().userID != "backend-42" {
		t.Errorf("analytics should use adopted id, got %s", em.last().userID)
	}
}

func TestOrchestrator_FailureLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantEvent string
	}{
		{"backend error", &backend.Error{Endpoint: backend.EndpointTranscribe, StatusCode: 500, Message: "bad audio"}, models.EventTranscriptionFailed},
		{"transport error", &backend.TransportError{Endpoint: backend.EndpointTranscribe, Err: context.DeadlineExceeded}, models.EventTranscriptionException},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend()
			em := &recordingEmitter{}
			o := newTestOrchestrator(fb, em)
			s := newTestSession()
			_ = o.SelectFile(context.Background(), s, "call.wav", "audio/wav", []byte("x"))
			fb.err[OpTranscribe] = tt.err

			err := o.Transcribe(context.Background(), s)

			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if s.Stage() != StageUploaded || s.FullTranscript() != "" || len(s.Utterances()) != 0 {
				t.Errorf("state mutated on failure: stage=%v", s.Stage())
			}
			last := em.last()
			if last.event != tt.wantEvent {
				t.Errorf("expected %s, got %s", tt.wantEvent, last.event)
			}
			if last.props["error"] != tt.err.Error() {
				t.Errorf("expected error property %q, got %v", tt.err.Error(), last.props["error"])
			}
			if n := s.TakeNotice(); n == nil || n.Level != NoticeError || n.Text != tt.err.Error() {
				t.Errorf("unexpected notice %+v", n)
			}
		})
	}
}

func TestOrchestrator_Transcribe_MalformedReplyKeepsState(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// The first transcription succeeds; later ones and create_embeddings get {}.
		if r.URL.Path == backend.EndpointTranscribe && calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"full_transcript":"Hi","combined_transcript":"Hi","utterances":[{"speaker":"A","text":"Hi"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	client := backend.New(backend.Config{BaseURL: srv.URL, Metrics: m})
	em := &recordingEmitter{}
	o := NewOrchestrator(client, em, Options{EmbeddingsEnabled: true, Metrics: m})
	s := newTestSession()
	ctx := context.Background()

	transcribed(t, o, s)
	if err := o.StartChat(ctx, s); err != nil {
		t.Fatalf("start chat: %v", err)
	}

	err := o.Transcribe(ctx, s)

	var te *backend.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *backend.TransportError, got %T %v", err, err)
	}
	if s.Stage() != StageTranscribed || len(s.Utterances()) != 1 || s.FullTranscript() != "Hi" {
		t.Errorf("state mutated by malformed reply: stage=%v utterances=%d", s.Stage(), len(s.Utterances()))
	}
	if !s.EmbeddingsReady() {
		t.Error("embeddings must stay on with their utterances intact")
	}
	if em.last().event != models.EventTranscriptionException {
		t.Errorf("expected TranscriptionException, got %s", em.last().event)
	}
}

func TestOrchestrator_Analyze(t *testing.T) {
	fb := newFakeBackend()
	em := &recordingEmitter{}
	o := newTestOrchestrator(fb, em)
	s := newTestSession()

	assertValidation(t, o.Analyze(context.Background(), s), ErrNoTranscript)
	if len(fb.calls) != 0 {
		t.Fatalf("expected no calls, got %v", fb.calls)
	}

	transcribed(t, o, s)
	if err := o.Analyze(context.Background(), s); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if s.AnalysisText() != "# Summary\n..." {
		t.Errorf("unexpected analysis %q", s.AnalysisText())
	}
	if s.Stage() != StageAnalyzed {
		t.Errorf("expected StageAnalyzed, got %v", s.Stage())
	}
	if em.last().event != models.EventAnalysisCompleted {
		t.Errorf("expected AnalysisCompleted, got %s", em.last().event)
	}

	// A failed re-analysis keeps the previous analysis.
	fb.err[OpAnalyze] = &backend.Error{Message: "overloaded"}
	if err := o.Analyze(context.Background(), s); err == nil {
		t.Fatal("expected error")
	}
	if s.AnalysisText() != "# Summary\n..." || s.Stage() != StageAnalyzed {
		t.Error("analysis must survive a failed retry")
	}
	if em.last().event != models.EventAnalysisFailed {
		t.Errorf("expected AnalysisFailed, got %s", em.last().event)
	}
}

func TestOrchestrator_Transcribe_ClearsStaleAnalysis(t *testing.T) {
	o := newTestOrchestrator(newFakeBackend(), &recordingEmitter{})
	s := newTestSession()
	transcribed(t, o, s)
	_ = o.Analyze(context.Background(), s)

	if err := o.Transcribe(context.Background(), s); err != nil {
		t.Fatalf("transcribe: %v", err)
	}

	if s.AnalysisText() != "" || s.Stage() != StageTranscribed {
		t.Errorf("expected analysis cleared, stage %v", s.Stage())
	}
}

func TestOrchestrator_EmbeddingsLifecycle(t *testing.T) {
	fb := newFakeBackend()
	em := &recordingEmitter{}
	o := newTestOrchestrator(fb, em)
	s := newTestSession()
	ctx := context.Background()

	// No utterances: local error, zero calls.
	assertValidation(t, o.StartChat(ctx, s), ErrNoUtterances)
	// Not ready: ask and delete unavailable, zero calls.
	assertValidation(t, o.Ask(ctx, s, "who called?"), ErrEmbeddingsNotReady)
	assertValidation(t, o.DeleteEmbeddings(ctx, s), ErrEmbeddingsNotReady)
	if len(fb.calls) != 0 || len(em.events) != 0 {
		t.Fatalf("expected no calls or events, got %v %v", fb.calls, em.names())
	}

	transcribed(t, o, s)

	fb.err[OpStartChat] = &backend.Error{Message: "index unavailable"}
	if err := o.StartChat(ctx, s); err == nil {
		t.Fatal("expected error")
	}
	if s.EmbeddingsReady() {
		t.Fatal("embeddings must stay off after a failed create")
	}
	if em.last().event != models.EventEmbeddingsCreationFailed {
		t.Errorf("expected EmbeddingsCreationFailed, got %s", em.last().event)
	}
	delete(fb.err, OpStartChat)

	if err := o.StartChat(ctx, s); err != nil {
		t.Fatalf("start chat: %v", err)
	}
	if !s.EmbeddingsReady() {
		t.Fatal("expected embeddings ready")
	}
	assertValidation(t, o.StartChat(ctx, s), ErrEmbeddingsActive)

	calls := len(fb.calls)
	for _, q := range []string{"", "   ", "\n\t"} {
		assertValidation(t, o.Ask(ctx, s, q), ErrBlankQuery)
	}
	if len(fb.calls) != calls {
		t.Errorf("blank queries must not call the backend")
	}

	if err := o.Ask(ctx, s, "  who called?  "); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if s.ChatResponse() != "A greeted B." {
		t.Errorf("unexpected response %q", s.ChatResponse())
	}
	if em.last().event != models.EventQuerySuccess {
		t.Errorf("expected QuerySuccess, got %s", em.last().event)
	}

	fb.err[OpDeleteEmbeddings] = &backend.TransportError{Endpoint: backend.EndpointDeleteEmbeddings, Err: errors.New("connection reset")}
	if err := o.DeleteEmbeddings(ctx, s); err == nil {
		t.Fatal("expected error")
	}
	if !s.EmbeddingsReady() {
		t.Fatal("embeddings must stay on after a failed delete")
	}
	if em.last().event != models.EventEmbeddingsDeletionException {
		t.Errorf("expected EmbeddingsDeletionException, got %s", em.last().event)
	}
	delete(fb.err, OpDeleteEmbeddings)

	if err := o.DeleteEmbeddings(ctx, s); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.EmbeddingsReady() {
		t.Error("expected embeddings off after delete")
	}
	if em.last().event != models.EventEmbeddingsDeleted {
		t.Errorf("expected EmbeddingsDeleted, got %s", em.last().event)
	}
}

func TestOrchestrator_Ask_Failures(t *testing.T) {
	fb := newFakeBackend()
	em := &recordingEmitter{}
	o := newTestOrchestrator(fb, em)
	s := newTestSession()
	transcribed(t, o, s)
	_ = o.StartChat(context.Background(), s)
	_ = o.Ask(context.Background(), s, "first")

	fb.err[OpAsk] = &backend.Error{Message: "no context"}
	_ = o.Ask(context.Background(), s, "second")

	if s.ChatResponse() != "A greeted B." {
		t.Errorf("previous answer must be kept on failure, got %q", s.ChatResponse())
	}
	if em.last().event != models.EventQueryFailed {
		t.Errorf("expected QueryFailed, got %s", em.last().event)
	}

	fb.err[OpAsk] = errors.New("unexpected")
	_ = o.Ask(context.Background(), s, "third")
	if em.last().event != models.EventQueryException {
		t.Errorf("expected QueryException, got %s", em.last().event)
	}
}

func TestOrchestrator_FeatureDisabled(t *testing.T) {
	fb := newFakeBackend()
	o := NewOrchestrator(fb, &recordingEmitter{}, Options{Metrics: metrics.NewMetrics(prometheus.NewRegistry())})
	s := newTestSession()
	transcribed(t, o, s)
	calls := len(fb.calls)

	assertValidation(t, o.StartChat(context.Background(), s), ErrFeatureDisabled)
	assertValidation(t, o.Ask(context.Background(), s, "q"), ErrFeatureDisabled)
	assertValidation(t, o.DeleteEmbeddings(context.Background(), s), ErrFeatureDisabled)

	if len(fb.calls) != calls {
		t.Errorf("disabled feature must not call the backend")
	}
}

// failingTracker stands in for an analytics collector that always breaks.
type failingTracker struct{ panic bool }

func (f failingTracker) Track(context.Context, string, string, map[string]any) error {
	if f.panic {
		panic("collector exploded")
	}
	return errors.New("collector unreachable")
}

func (failingTracker) Close() error { return nil }

func TestOrchestrator_AnalyticsFailureDoesNotBlock(t *testing.T) {
	for _, panics := range []bool{false, true} {
		m := metrics.NewMetrics(prometheus.NewRegistry())
		safe := analytics.NewSafe(failingTracker{panic: panics}, "broken", m)
		o := NewOrchestrator(newFakeBackend(), safe, Options{EmbeddingsEnabled: true, Metrics: m})
		s := newTestSession()

		transcribed(t, o, s)
		if err := o.Analyze(context.Background(), s); err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if s.Stage() != StageAnalyzed {
			t.Errorf("expected StageAnalyzed despite analytics failure, got %v", s.Stage())
		}
	}
}

func TestOrchestrator_SetAPIKey(t *testing.T) {
	fb := newFakeBackend()
	o := newTestOrchestrator(fb, &recordingEmitter{})
	s := newTestSession()

	o.SetAPIKey(s, "  secret  ")
	transcribed(t, o, s)

	if !s.HasAPIKey() {
		t.Fatal("expected key stored")
	}
	if fb.creds[0].APIKey != "secret" {
		t.Errorf("expected trimmed key sent, got %q", fb.creds[0].APIKey)
	}
}

func TestStage_String(t *testing.T) {
	tests := map[Stage]string{
		StageIdle:        "IDLE",
		StageUploaded:    "UPLOADED",
		StageTranscribed: "TRANSCRIBED",
		StageAnalyzed:    "ANALYZED",
		Stage(99):        "UNKNOWN(99)",
	}
	for stage, want := range tests {
		if got := stage.String(); got != want {
			t.Errorf("Stage(%d).String() = %s, want %s", int(stage), got, want)
		}
	}
}
