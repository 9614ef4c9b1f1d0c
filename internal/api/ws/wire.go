package ws

import (
	"ai-speech-stream-service/internal/models"
)

// Message types sent to clients.
const (
	TypeSession      = "session"
	TypePartial      = "partial"
	TypeFinal        = "final"
	TypeMetrics      = "metrics"
	TypeError        = "error"
	TypeBackpressure = "backpressure"
)

// Message is the server→client JSON frame.
//
// Partials carry the text twice, as "text" and "partial"; finals carry word
// confidences as "result" and set "is_final".
type Message struct {
	Type          string                 `json:"type"`
	SessionID     string                 `json:"session_id,omitempty"`
	Engine        string                 `json:"engine,omitempty"`
	Text          string                 `json:"text"`
	Partial       string                 `json:"partial,omitempty"`
	Result        []models.Word          `json:"result,omitempty"`
	IsFinal       bool                   `json:"is_final,omitempty"`
	Status        bool                   `json:"status,omitempty"`
	Segments      int                    `json:"segments,omitempty"`
	LowConfidence []string               `json:"low_confidence,omitempty"`
	Elapsed       string                 `json:"elapsed,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Dropped       string                 `json:"dropped,omitempty"`
	DroppedBytes  int                    `json:"dropped_bytes,omitempty"`
	Metrics       *models.SessionMetrics `json:"metrics,omitempty"`
}

// control is a client→server text frame.
type control struct {
	Type string `json:"type"`
}

// Encode converts an update to its wire form.
func Encode(u models.TranscriptUpdate) Message {
	if !u.IsFinal() {
		return Message{
			Type:    TypePartial,
			Text:    u.Text,
			Partial: u.Text,
			Status:  u.Status,
			Elapsed: u.Elapsed,
		}
	}
	return Message{
		Type:          TypeFinal,
		Text:          u.Text,
		Result:        u.Words,
		IsFinal:       true,
		Segments:      u.Segments,
		LowConfidence: u.LowConfidence,
		Elapsed:       u.Elapsed,
		Error:         u.Error,
	}
}

func errorMessage(msg string) Message {
	return Message{Type: TypeError, Error: msg}
}

// DroppedNewest marks a backpressure notice for the chunk that was just sent;
// earlier chunks stay queued and are still transcribed.
const DroppedNewest = "newest"

func backpressureMessage(size int) Message {
	return Message{
		Type:         TypeBackpressure,
		Error:        "audio queue full, slow down",
		Dropped:      DroppedNewest,
		DroppedBytes: size,
	}
}
