package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/onairlab/segue"
)

// RetrievalClient fetches context chunks for a segment's topic.
type RetrievalClient interface {
	Retrieve(ctx context.Context, show, title string, slotAt time.Time) ([]string, error)
}

// ScriptClient turns context chunks into a broadcast script.
type ScriptClient interface {
	WriteScript(ctx context.Context, show, title string, chunks []string) (string, error)
}

// SynthesisResult is the speech service's output for one script.
type SynthesisResult struct {
	// Audio is the hex-encoded WAV payload.
	Audio string `json:"audio"`
	// DurationSec is the rendered audio length in seconds.
	DurationSec float64 `json:"duration_sec"`
	// Cached reports whether the service served a cache hit.
	Cached bool `json:"cached"`
}

// SpeechClient renders a script to audio.
type SpeechClient interface {
	Synthesize(ctx context.Context, text, model string, speed float64) (*SynthesisResult, error)
}

// NormalizeResult is the loudness service's output.
type NormalizeResult struct {
	AudioRef     string  `json:"audio_ref"`
	LoudnessLUFS float64 `json:"loudness_lufs"`
	TruePeakDB   float64 `json:"true_peak_db"`
}

// LoudnessClient normalizes rendered audio to broadcast loudness.
type LoudnessClient interface {
	Normalize(ctx context.Context, audioRef string, targetLUFS float64) (*NormalizeResult, error)
}

// ──────────────────────────────────────────────────
// Shared HTTP base
// ──────────────────────────────────────────────────

// httpClient is the shared JSON-over-HTTP base for the stage service
// clients. Status codes are classified for the retry policy: 4xx means
// the request itself is wrong and will never succeed (permanent), while
// 408, 429 and 5xx are service trouble worth retrying.
type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string, timeout time.Duration) httpClient {
	return httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c httpClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return segue.Permanent(fmt.Errorf("pipeline: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return segue.Permanent(fmt.Errorf("pipeline: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and connection errors are transient.
		return fmt.Errorf("pipeline: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("pipeline: %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(snippet))
		if retryableStatus(resp.StatusCode) {
			return err
		}
		return segue.Permanent(err)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("pipeline: %s: decode response: %w", path, err)
	}
	return nil
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// ──────────────────────────────────────────────────
// HTTP implementations
// ──────────────────────────────────────────────────

// HTTPRetrieval talks to the retrieval service.
type HTTPRetrieval struct {
	httpClient
}

// NewHTTPRetrieval creates a retrieval client against baseURL.
func NewHTTPRetrieval(baseURL string, timeout time.Duration) *HTTPRetrieval {
	return &HTTPRetrieval{newHTTPClient(baseURL, timeout)}
}

// Retrieve fetches context chunks for the segment's topic.
func (c *HTTPRetrieval) Retrieve(ctx context.Context, show, title string, slotAt time.Time) ([]string, error) {
	req := struct {
		Show   string    `json:"show"`
		Title  string    `json:"title,omitempty"`
		SlotAt time.Time `json:"slot_at"`
	}{show, title, slotAt}

	var resp struct {
		Chunks []string `json:"chunks"`
	}
	if err := c.postJSON(ctx, "/retrieve", req, &resp); err != nil {
		return nil, err
	}
	return resp.Chunks, nil
}

// HTTPScript talks to the script generation service.
type HTTPScript struct {
	httpClient
}

// NewHTTPScript creates a script client against baseURL.
func NewHTTPScript(baseURL string, timeout time.Duration) *HTTPScript {
	return &HTTPScript{newHTTPClient(baseURL, timeout)}
}

// WriteScript generates a broadcast script from context chunks.
func (c *HTTPScript) WriteScript(ctx context.Context, show, title string, chunks []string) (string, error) {
	req := struct {
		Show   string   `json:"show"`
		Title  string   `json:"title,omitempty"`
		Chunks []string `json:"chunks"`
	}{show, title, chunks}

	var resp struct {
		Script string `json:"script"`
	}
	if err := c.postJSON(ctx, "/script", req, &resp); err != nil {
		return "", err
	}
	return resp.Script, nil
}

// HTTPSpeech talks to the speech synthesis service.
type HTTPSpeech struct {
	httpClient
}

// NewHTTPSpeech creates a speech client against baseURL.
func NewHTTPSpeech(baseURL string, timeout time.Duration) *HTTPSpeech {
	return &HTTPSpeech{newHTTPClient(baseURL, timeout)}
}

// Synthesize renders text to audio. The response audio is hex-encoded.
func (c *HTTPSpeech) Synthesize(ctx context.Context, text, model string, speed float64) (*SynthesisResult, error) {
	req := struct {
		Text  string  `json:"text"`
		Model string  `json:"model"`
		Speed float64 `json:"speed"`
	}{text, model, speed}

	var resp SynthesisResult
	if err := c.postJSON(ctx, "/synthesize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Models lists the voice models the speech service has loaded.
func (c *HTTPSpeech) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: /models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pipeline: /models: status %d", resp.StatusCode)
	}

	var out struct {
		Models []string `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("pipeline: /models: decode response: %w", err)
	}
	return out.Models, nil
}

// Health checks whether the speech service is up and has its model loaded.
func (c *HTTPSpeech) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("pipeline: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("pipeline: /health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pipeline: /health: status %d", resp.StatusCode)
	}
	return nil
}

// HTTPLoudness talks to the loudness normalization service.
type HTTPLoudness struct {
	httpClient
}

// NewHTTPLoudness creates a loudness client against baseURL.
func NewHTTPLoudness(baseURL string, timeout time.Duration) *HTTPLoudness {
	return &HTTPLoudness{newHTTPClient(baseURL, timeout)}
}

// Normalize brings audio to the target integrated loudness.
func (c *HTTPLoudness) Normalize(ctx context.Context, audioRef string, targetLUFS float64) (*NormalizeResult, error) {
	req := struct {
		AudioRef   string  `json:"audio_ref"`
		TargetLUFS float64 `json:"target_lufs"`
	}{audioRef, targetLUFS}

	var resp NormalizeResult
	if err := c.postJSON(ctx, "/normalize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
