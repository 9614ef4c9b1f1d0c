// Package models defines the data structures shared by the streaming pipeline:
// audio frames, transcript updates and the events handed to downstream consumers.
package models

import (
	"strings"
	"time"
)

// UpdateKind distinguishes provisional from confirmed transcript updates.
type UpdateKind int

const (
	// UpdatePartial is provisional text that replaces the previous partial.
	UpdatePartial UpdateKind = iota
	// UpdateFinal is confirmed text that is appended to the transcript.
	UpdateFinal
)

// String returns the wire name of the kind.
func (k UpdateKind) String() string {
	if k == UpdateFinal {
		return "final"
	}
	return "partial"
}

// Word is a recognized word with its recognizer confidence (0..1).
type Word struct {
	Text       string  `json:"word"`
	Confidence float64 `json:"conf"`
}

// TranscriptUpdate is one unit of recognizer output for a session.
//
// A Final update's Text is authoritative and is appended to the session
// transcript. A Partial update's Text replaces the pending partial and is
// never appended.
type TranscriptUpdate struct {
	Kind UpdateKind
	Text string

	// Words carries word-level confidences on Final updates when the engine
	// provides them.
	Words []Word

	// LowConfidence is the session-wide set of words that fell below the
	// engine's confidence threshold.
	LowConfidence []string

	// Segments is the number of retained segments behind a cumulative Final.
	Segments int

	// Status marks a Partial whose text is a human-readable progress message
	// rather than recognized speech.
	Status bool

	// Error is set on the terminal Final emitted after an adapter failure.
	Error string

	// Elapsed is the session clock in MM:SS at the time of the update.
	Elapsed   string
	Timestamp time.Time
}

// IsFinal reports whether the update is a Final.
func (u TranscriptUpdate) IsFinal() bool {
	return u.Kind == UpdateFinal
}

// TranscriptCompleted is handed to the downstream note pipeline once a
// session closes with a non-empty transcript.
type TranscriptCompleted struct {
	EventType     string    `json:"eventType" validate:"required"`
	SessionID     string    `json:"sessionId" validate:"required"`
	Engine        string    `json:"engine" validate:"required"`
	Text          string    `json:"text" validate:"required"`
	Segments      []string  `json:"segments" validate:"required,min=1"`
	LowConfidence []string  `json:"lowConfidence,omitempty"`
	CloseReason   string    `json:"closeReason" validate:"required"`
	StartedAt     time.Time `json:"startedAt"`
	EndedAt       time.Time `json:"endedAt"`
	AudioSeconds  float64   `json:"audioSeconds" validate:"gte=0"`
}

// TranscriptEvent mirrors a single partial or final update onto the event bus.
type TranscriptEvent struct {
	EventType string  `json:"eventType" validate:"required"`
	SessionID string  `json:"sessionId" validate:"required"`
	Engine    string  `json:"engine" validate:"required"`
	Text      string  `json:"text"`
	Words     []Word  `json:"words,omitempty"`
	Segments  int     `json:"segments,omitempty"`
	Timestamp int64   `json:"timestamp" validate:"gt=0"`
	Elapsed   string  `json:"elapsed,omitempty"`
	Status    bool    `json:"status,omitempty"`
	AvgConf   float64 `json:"confidence,omitempty"`
}

// NewTranscriptEvent converts an update into its bus representation.
func NewTranscriptEvent(sessionID, engine string, u TranscriptUpdate) TranscriptEvent {
	ev := TranscriptEvent{
		EventType: "stream.transcript." + u.Kind.String(),
		SessionID: sessionID,
		Engine:    engine,
		Text:      u.Text,
		Words:     u.Words,
		Segments:  u.Segments,
		Timestamp: u.Timestamp.UnixMilli(),
		Elapsed:   u.Elapsed,
		Status:    u.Status,
	}
	if len(u.Words) > 0 {
		var sum float64
		for _, w := range u.Words {
			sum += w.Confidence
		}
		ev.AvgConf = sum / float64(len(u.Words))
	}
	return ev
}

// SessionMetrics summarises a session when it closes.
type SessionMetrics struct {
	AudioSeconds  float64 `json:"audio_seconds"`
	Chunks        uint64  `json:"chunks"`
	AvgAmplitude  float64 `json:"avg_amplitude"`
	PeakAmplitude float64 `json:"peak_amplitude"`
	CPUAvg        float64 `json:"cpu_avg"`
	MemoryAvgMB   float64 `json:"memory_avg"`
	PeakMemoryMB  float64 `json:"peak_memory"`
	Expired       bool    `json:"expired,omitempty"`
	Reason        string  `json:"reason"`
}

// JoinSegments joins confirmed segments with single spaces, skipping blanks.
func JoinSegments(segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
