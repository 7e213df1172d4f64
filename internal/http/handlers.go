package http

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"call-analysis-console/internal/app"
	"call-analysis-console/internal/observability/logging"
	"call-analysis-console/internal/observability/metrics"
	"call-analysis-console/internal/render"
	"call-analysis-console/internal/session"
)

// SessionCookie carries the session store key.
const SessionCookie = "console_session"

// multipartOverhead is allowed on top of the audio limit for form framing.
const multipartOverhead = 1 << 20

//go:embed templates/page.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/page.html"))

type handlers struct {
	store     *session.Store
	orch      *session.Orchestrator
	markdown  *render.Markdown
	metrics   *metrics.Metrics
	maxUpload int64
	log       zerolog.Logger
}

func newHandlers(a *app.Application) *handlers {
	return &handlers{
		store:     a.Store,
		orch:      a.Orchestrator,
		markdown:  a.Markdown,
		metrics:   a.Metrics,
		maxUpload: a.Cfg.Session.MaxUploadBytes,
		log:       logging.WithComponent("http"),
	}
}

// pageView is the projection of one session that the template renders.
type pageView struct {
	Notice      *session.Notice
	Stage       string
	UploadName  string
	HasUpload   bool
	HasAPIKey   bool
	ChatEnabled bool

	ShowTranscript bool
	FullTranscript string
	DiarizedText   string

	ShowAnalysis  bool
	AnalysisHTML  template.HTML
	AnalysisError string

	EmbeddingsReady bool
	ChatResponse    string
}

// withSession resolves the client's session, issuing a cookie for new ones,
// and runs fn while holding the session lock so one client's actions run one
// at a time.
func (h *handlers) withSession(w http.ResponseWriter, r *http.Request, fn func(s *session.Session)) {
	var key string
	if c, err := r.Cookie(SessionCookie); err == nil {
		key = c.Value
	}

	s, created := h.store.Get(key)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    s.Key(),
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}

	s.Lock()
	defer s.Unlock()
	fn(s)
}

func (h *handlers) page(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	h.withSession(w, r, func(s *session.Session) {
		view := h.project(s)
		if err := pageTemplate.Execute(&buf, view); err != nil {
			h.log.Error().Err(err).Str("sessionId", s.ID()).Msg("Page template failed")
			buf.Reset()
		}
	})
	if buf.Len() == 0 {
		http.Error(w, "Unable to render the page.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// project is a pure function of session state, apart from consuming the
// pending notice.
func (h *handlers) project(s *session.Session) pageView {
	v := pageView{
		Notice:          s.TakeNotice(),
		Stage:           s.Stage().String(),
		HasAPIKey:       s.HasAPIKey(),
		ChatEnabled:     h.orch.EmbeddingsEnabled(),
		EmbeddingsReady: s.EmbeddingsReady(),
		ChatResponse:    s.ChatResponse(),
	}
	if up := s.Upload(); up != nil {
		v.HasUpload = true
		v.UploadName = up.Name
	}

	if utterances := s.Utterances(); len(utterances) > 0 {
		v.ShowTranscript = true
		v.FullTranscript = s.FullTranscript()
		v.DiarizedText = render.DiarizedText(utterances)
	}

	if text := s.AnalysisText(); text != "" {
		v.ShowAnalysis = true
		out, err := h.markdown.Render(text)
		if err != nil {
			h.metrics.RecordRenderError()
			h.log.Warn().Err(err).Str("sessionId", s.ID()).Msg("Analysis rendering failed")
			v.AnalysisError = render.RenderingMessage
		} else {
			v.AnalysisHTML = out
		}
	}
	return v
}

func (h *handlers) audio(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *session.Session) {
		up := s.Upload()
		if up == nil {
			http.NotFound(w, r)
			return
		}
		if up.ContentType != "" {
			w.Header().Set("Content-Type", up.ContentType)
		}
		http.ServeContent(w, r, up.Name, time.Time{}, bytes.NewReader(up.Data))
	})
}

func (h *handlers) setAPIKey(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *session.Session) {
		h.orch.SetAPIKey(s, r.PostFormValue("api_key"))
	})
	redirectHome(w, r)
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)

	h.withSession(w, r, func(s *session.Session) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				s.SetNotice(session.NoticeError, session.ErrFileTooLarge.Message)
				return
			}
			s.SetNotice(session.NoticeError, session.ErrNoFile.Message)
			return
		}
		defer r.MultipartForm.RemoveAll()

		f, hdr, err := r.FormFile("file")
		if err != nil {
			s.SetNotice(session.NoticeError, session.ErrNoFile.Message)
			return
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			s.SetNotice(session.NoticeError, "Unable to read the uploaded file.")
			return
		}

		_ = h.orch.SelectFile(r.Context(), s, hdr.Filename, hdr.Header.Get("Content-Type"), data)
	})
	redirectHome(w, r)
}

func (h *handlers) transcribe(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.orch.Transcribe)
}

func (h *handlers) analyze(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.orch.Analyze)
}

func (h *handlers) startChat(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.orch.StartChat)
}

func (h *handlers) deleteEmbeddings(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.orch.DeleteEmbeddings)
}

func (h *handlers) ask(w http.ResponseWriter, r *http.Request) {
	query := r.PostFormValue("query")
	h.action(w, r, func(ctx context.Context, s *session.Session) error {
		return h.orch.Ask(ctx, s, query)
	})
}

// action runs one orchestrator operation. Its outcome is recorded on the
// session as a notice, so the error needs no further handling here.
func (h *handlers) action(w http.ResponseWriter, r *http.Request, op func(context.Context, *session.Session) error) {
	h.withSession(w, r, func(s *session.Session) {
		_ = op(r.Context(), s)
	})
	redirectHome(w, r)
}

func (h *handlers) reset(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		h.store.Remove(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	redirectHome(w, r)
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
