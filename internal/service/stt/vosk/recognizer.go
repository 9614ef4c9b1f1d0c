// Package vosk speaks the vosk-server WebSocket protocol, giving the
// word-incremental engine a real recognizer: binary PCM frames in, JSON
// partial or completed-utterance replies out.
package vosk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/service/stt/incremental"
)

// DefaultTimeout bounds each request/reply round trip.
const DefaultTimeout = 2 * time.Second

// Config points a recognizer at a vosk server.
type Config struct {
	URL        string
	SampleRate int
	Timeout    time.Duration
}

type configMessage struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
		Words      int `json:"words"`
	} `json:"config"`
}

type reply struct {
	Partial *string `json:"partial"`
	Text    *string `json:"text"`
	Result  []struct {
		Word string  `json:"word"`
		Conf float64 `json:"conf"`
	} `json:"result"`
}

func (r reply) toResult() incremental.Result {
	var res incremental.Result
	if r.Text != nil {
		res.Text = strings.TrimSpace(*r.Text)
	}
	for _, w := range r.Result {
		res.Words = append(res.Words, models.Word{Text: w.Word, Confidence: w.Conf})
	}
	return res
}

// Recognizer implements incremental.Recognizer over one vosk-server
// connection. A connection carries exactly one session.
type Recognizer struct {
	conn    *websocket.Conn
	timeout time.Duration
	partial string
	result  incremental.Result
}

var _ incremental.Recognizer = (*Recognizer)(nil)

// Dial connects to the server and configures the sample rate.
func Dial(ctx context.Context, cfg Config) (*Recognizer, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to vosk server: %w", err)
	}

	var msg configMessage
	msg.Config.SampleRate = cfg.SampleRate
	msg.Config.Words = 1
	_ = conn.SetWriteDeadline(time.Now().Add(cfg.Timeout))
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send vosk config: %w", err)
	}
	return &Recognizer{conn: conn, timeout: cfg.Timeout}, nil
}

// AcceptWaveform implements incremental.Recognizer.
func (r *Recognizer) AcceptWaveform(ctx context.Context, pcm []byte) (bool, error) {
	rep, err := r.roundTrip(ctx, websocket.BinaryMessage, pcm)
	if err != nil {
		return false, err
	}
	if rep.Text != nil {
		r.result = rep.toResult()
		r.partial = ""
		return true, nil
	}
	if rep.Partial != nil {
		r.partial = *rep.Partial
	}
	return false, nil
}

// Result implements incremental.Recognizer.
func (r *Recognizer) Result(ctx context.Context) (incremental.Result, error) {
	res := r.result
	r.result = incremental.Result{}
	return res, nil
}

// PartialResult implements incremental.Recognizer.
func (r *Recognizer) PartialResult(ctx context.Context) (string, error) {
	return r.partial, nil
}

// FinalResult implements incremental.Recognizer by sending end-of-stream.
func (r *Recognizer) FinalResult(ctx context.Context) (incremental.Result, error) {
	rep, err := r.roundTrip(ctx, websocket.TextMessage, []byte(`{"eof" : 1}`))
	if err != nil {
		return incremental.Result{}, err
	}
	r.partial = ""
	return rep.toResult(), nil
}

// Close implements incremental.Recognizer.
func (r *Recognizer) Close() error {
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return r.conn.Close()
}

func (r *Recognizer) roundTrip(ctx context.Context, kind int, payload []byte) (reply, error) {
	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = r.conn.SetWriteDeadline(deadline)
	_ = r.conn.SetReadDeadline(deadline)

	if err := r.conn.WriteMessage(kind, payload); err != nil {
		return reply{}, fmt.Errorf("write to vosk: %w", err)
	}
	var rep reply
	if err := r.conn.ReadJSON(&rep); err != nil {
		return reply{}, fmt.Errorf("read vosk reply: %w", err)
	}
	return rep, nil
}
