package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-service/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errFmtUnexpectedContentType = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode  = "speech service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "speech service returned non-OK status: %s, body: %s"
)

// speechRequest is the JSON payload for a generation request against the
// standalone speech service.
type speechRequest struct {
	// Text is the cleaned sentence to synthesize.
	Text string `json:"text"`

	// Voice carries the audio prompt: a server-side reference path or a
	// preset name.
	Voice string `json:"voice"`
}

// speechErrorResponse is the structured error body the service returns on
// failure.
type speechErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPEngine implements core.VoiceEngine against a standalone speech
// service, for deployments where the model runs as its own process.
type HTTPEngine struct {
	httpClient *http.Client
	baseURL    string
	tools      core.AudioTools
	log        *logger.Logger
}

// NewHTTPEngine creates an engine for the speech service at baseURL. The
// timeout applies to every request made by this engine.
func NewHTTPEngine(
	baseURL string,
	timeout time.Duration,
	tools core.AudioTools,
	log *logger.Logger,
) *HTTPEngine {
	return &HTTPEngine{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		tools:      tools,
		log:        log,
	}
}

// ResolveVoice derives the voice state for this pipeline instance.
func (e *HTTPEngine) ResolveVoice(ctx context.Context, spec core.VoiceSpec) (core.Voice, error) {
	return resolveVoice(ctx, spec, e.tools, e.log)
}

// Synthesize sends one generation request and returns the decoded waveform.
func (e *HTTPEngine) Synthesize(ctx context.Context, voice core.Voice, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	requestBody, err := json.Marshal(speechRequest{
		Text:  text,
		Voice: promptArgument(voice),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.baseURL + apiGenerateSpeech

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		url,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to speech service at %s: %w",
			e.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, contentType)
	}

	wavData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	return decodeEngineWAV(wavData)
}

// HealthCheck verifies the speech service is running. Callers use it to
// fail fast before a multi-hour synthesis run.
func (e *HTTPEngine) HealthCheck(ctx context.Context) error {
	url := e.baseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", e.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error from the service,
// falling back to the raw body so diagnostics are preserved.
func parseErrorResponse(resp *http.Response) error {
	var errorResp speechErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil {
		return fmt.Errorf(errFmtServiceErrorWithCode,
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
