// Package backend is the HTTP client for the remote transcription, analysis
// and embeddings API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/rs/zerolog"

	"call-analysis-console/internal/config"
	"call-analysis-console/internal/models"
	"call-analysis-console/internal/observability/logging"
	"call-analysis-console/internal/observability/metrics"
	"call-analysis-console/internal/schema"
)

// Endpoint paths.
const (
	EndpointTranscribe       = "/transcribe"
	EndpointAnalyze          = "/analyze"
	EndpointCreateEmbeddings = "/create_embeddings"
	EndpointAsk              = "/ask"
	EndpointDeleteEmbeddings = "/delete_embeddings"
)

// Header names attached under the keyed auth policy.
const (
	HeaderAPIKey    = "API-Key"
	HeaderSessionID = "User-Session-ID"
)

// DefaultErrorMessage is shown when a failure body carries no error text.
const DefaultErrorMessage = "An error occurred."

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// Credentials identify the caller to the backend.
type Credentials struct {
	APIKey    string
	SessionID string
}

// Upload is an audio file staged for transcription.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Error is a non-200 backend response that carried a JSON body.
type Error struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// TransportError covers network failures, timeouts and bodies that could not
// be decoded or broke the response contract.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Config holds backend client configuration.
type Config struct {
	BaseURL           string
	AuthPolicy        string
	TranscribeTimeout time.Duration
	RequestTimeout    time.Duration
	HTTPClient        *http.Client
	Metrics           *metrics.Metrics
}

// Client issues one request per orchestrator action. It holds no per-session
// state and is safe for concurrent use.
type Client struct {
	baseURL           string
	keyed             bool
	transcribeTimeout time.Duration
	requestTimeout    time.Duration
	http              *http.Client
	metrics           *metrics.Metrics
	validator         *schema.Validator
	log               zerolog.Logger
}

// New creates a backend client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 60 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	c := &Client{
		baseURL:           cfg.BaseURL,
		keyed:             cfg.AuthPolicy == config.AuthPolicyKeyed,
		transcribeTimeout: cfg.TranscribeTimeout,
		requestTimeout:    cfg.RequestTimeout,
		http:              hc,
		metrics:           m,
		validator:         schema.New(),
		log:               logging.WithComponent("backend"),
	}

	c.log.Info().
		Str("baseUrl", c.baseURL).
		Bool("keyed", c.keyed).
		Dur("transcribeTimeout", c.transcribeTimeout).
		Dur("requestTimeout", c.requestTimeout).
		Msg("Backend client initialized")

	return c
}

// Transcribe uploads an audio file as multipart field "file".
func (c *Client) Transcribe(ctx context.Context, creds Credentials, up Upload) (*models.TranscribeResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, up.Name))
	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, &TransportError{Endpoint: EndpointTranscribe, Err: err}
	}
	if _, err := part.Write(up.Data); err != nil {
		return nil, &TransportError{Endpoint: EndpointTranscribe, Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &TransportError{Endpoint: EndpointTranscribe, Err: err}
	}

	var out models.TranscribeResponse
	if err := c.do(ctx, EndpointTranscribe, c.transcribeTimeout, &body, mw.FormDataContentType(), creds, &out); err != nil {
		return nil, err
	}
	if err := c.validator.Transcription(&out); err != nil {
		return nil, &TransportError{Endpoint: EndpointTranscribe, Err: err}
	}
	return &out, nil
}

// Analyze requests a markdown analysis of a flattened transcript.
func (c *Client) Analyze(ctx context.Context, creds Credentials, transcript string) (*models.AnalyzeResponse, error) {
	var out models.AnalyzeResponse
	if err := c.postJSON(ctx, EndpointAnalyze, creds, models.AnalyzeRequest{Transcript: transcript}, &out); err != nil {
		return nil, err
	}
	if err := c.validator.Analysis(&out); err != nil {
		return nil, &TransportError{Endpoint: EndpointAnalyze, Err: err}
	}
	return &out, nil
}

// CreateEmbeddings indexes the diarized utterances for chat. A 200 status is
// the only success signal; the body is ignored.
func (c *Client) CreateEmbeddings(ctx context.Context, creds Credentials, utterances []models.Utterance) error {
	return c.postJSON(ctx, EndpointCreateEmbeddings, creds, models.CreateEmbeddingsRequest{Utterances: utterances}, nil)
}

// Ask queries the embeddings of the current call.
func (c *Client) Ask(ctx context.Context, creds Credentials, query string) (*models.AskResponse, error) {
	var out models.AskResponse
	if err := c.postJSON(ctx, EndpointAsk, creds, models.AskRequest{Query: query}, &out); err != nil {
		return nil, err
	}
	if err := c.validator.Answer(&out); err != nil {
		return nil, &TransportError{Endpoint: EndpointAsk, Err: err}
	}
	return &out, nil
}

// DeleteEmbeddings drops the embeddings of the current call. It sends no body.
func (c *Client) DeleteEmbeddings(ctx context.Context, creds Credentials) (*models.DeleteEmbeddingsResponse, error) {
	var out models.DeleteEmbeddingsResponse
	if err := c.do(ctx, EndpointDeleteEmbeddings, c.requestTimeout, nil, "", creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, creds Credentials, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: err}
	}
	return c.do(ctx, endpoint, c.requestTimeout, bytes.NewReader(payload), "application/json", creds, out)
}

// do performs one POST with a bounded timeout and classifies the outcome.
// out may be nil when the success body carries no data.
func (c *Client) do(ctx context.Context, endpoint string, timeout time.Duration, body io.Reader, contentType string, creds Credentials, out any) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return c.fail(endpoint, start, &TransportError{Endpoint: endpoint, Err: err})
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req, creds)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("request timed out after %s: %w", timeout, err)
		}
		return c.fail(endpoint, start, &TransportError{Endpoint: endpoint, Err: err})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.fail(endpoint, start, &TransportError{Endpoint: endpoint, Err: err})
	}

	if resp.StatusCode != http.StatusOK {
		var er models.ErrorResponse
		if err := json.Unmarshal(raw, &er); err != nil {
			return c.fail(endpoint, start, &TransportError{
				Endpoint: endpoint,
				Err:      fmt.Errorf("malformed error response (status %d): %w", resp.StatusCode, err),
			})
		}
		msg := er.Error
		if msg == "" {
			msg = DefaultErrorMessage
		}
		return c.fail(endpoint, start, &Error{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: msg})
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return c.fail(endpoint, start, &TransportError{
				Endpoint: endpoint,
				Err:      fmt.Errorf("malformed response: %w", err),
			})
		}
	}

	c.metrics.RecordBackendCall(endpoint, "ok", time.Since(start).Seconds())
	c.log.Debug().
		Str("endpoint", endpoint).
		Str("sessionId", creds.SessionID).
		Dur("latency", time.Since(start)).
		Msg("Backend call succeeded")
	return nil
}

func (c *Client) fail(endpoint string, start time.Time, err error) error {
	result := "transport_error"
	var be *Error
	if errors.As(err, &be) {
		result = "backend_error"
	}
	c.metrics.RecordBackendCall(endpoint, result, time.Since(start).Seconds())
	c.log.Warn().
		Err(err).
		Str("endpoint", endpoint).
		Str("result", result).
		Msg("Backend call failed")
	return err
}

// applyAuth attaches the keyed headers to every endpoint uniformly. The API
// key value itself is never logged.
func (c *Client) applyAuth(req *http.Request, creds Credentials) {
	if !c.keyed {
		return
	}
	req.Header.Set(HeaderAPIKey, creds.APIKey)
	req.Header.Set(HeaderSessionID, creds.SessionID)
}
