// Package whisper transcribes audio windows with a whisper-asr-webservice
// compatible HTTP endpoint for the windowed-context engine.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-speech-stream-service/internal/observability/logging"
	"ai-speech-stream-service/internal/service/stt/windowed"
)

type transcriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Config points the client at a whisper service.
type Config struct {
	BaseURL  string
	Language string
	Timeout  time.Duration
}

// Client implements windowed.Transcriber. It is safe for concurrent use.
type Client struct {
	baseURL    string
	language   string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ windowed.Transcriber = (*Client)(nil)

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		language:   cfg.Language,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logging.WithComponent("whisper-client"),
	}
}

// Transcribe posts pcm as a WAV file and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	wav, err := EncodeWAV(pcm, sampleRate)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio_file", "window.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	q := url.Values{}
	q.Set("encode", "true")
	q.Set("task", "transcribe")
	q.Set("output", "json")
	if c.language != "" {
		q.Set("language", c.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/asr?"+q.Encode(), &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out transcriptionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		// Some deployments ignore output=json and answer with plain text.
		out.Text = string(raw)
	}

	c.log.Debug().
		Int("bytes", len(pcm)).
		Dur("latency", time.Since(start)).
		Str("text", out.Text).
		Msg("window transcribed")
	return strings.TrimSpace(out.Text), nil
}
