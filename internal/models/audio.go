package models

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// BytesPerSample is the size of one 16-bit little-endian PCM sample.
const BytesPerSample = 2

// AudioFrame is a chunk of 16-bit little-endian mono PCM received from a client.
type AudioFrame struct {
	SessionID string
	// Seq increases monotonically per session and is used for diagnostics only.
	Seq        uint64
	PCM        []byte
	ReceivedAt time.Time
}

// Duration returns the playback length of the frame at the given sample rate.
func (f AudioFrame) Duration(sampleRate int) time.Duration {
	return PCMDuration(len(f.PCM), sampleRate)
}

// PCMDuration converts a byte count of 16-bit mono PCM into a duration.
func PCMDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// PCMBytes returns how many bytes of 16-bit mono PCM cover d at sampleRate.
func PCMBytes(d time.Duration, sampleRate int) int {
	samples := int(d.Seconds() * float64(sampleRate))
	return samples * BytesPerSample
}

// Amplitude returns the mean absolute sample value of 16-bit little-endian
// PCM, normalised to 0..1. A trailing odd byte is ignored.
func Amplitude(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	return sum / float64(n) / 32768.0
}

// EngineKind identifies the recognition backend family bound to a session.
type EngineKind int

const (
	EngineUnknown EngineKind = iota
	// EngineWordIncremental feeds each chunk to an incremental recognizer.
	EngineWordIncremental
	// EngineWindowedContext re-transcribes a sliding window of buffered audio.
	EngineWindowedContext
	// EngineCloudStreaming relays audio to a remote streaming recognizer.
	EngineCloudStreaming
)

var engineNames = map[EngineKind]string{
	EngineWordIncremental: "word_incremental",
	EngineWindowedContext: "windowed_context",
	EngineCloudStreaming:  "cloud_streaming",
}

var engineAliases = map[string]EngineKind{
	"word_incremental": EngineWordIncremental,
	"vosk":             EngineWordIncremental,
	"windowed_context": EngineWindowedContext,
	"whisper":          EngineWindowedContext,
	"cloud_streaming":  EngineCloudStreaming,
	"cloud":            EngineCloudStreaming,
	"google":           EngineCloudStreaming,
	"azure_speech":     EngineCloudStreaming,
}

// String returns the canonical engine name.
func (k EngineKind) String() string {
	if name, ok := engineNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// EngineKinds lists the supported engines in a stable order.
func EngineKinds() []EngineKind {
	return []EngineKind{EngineWordIncremental, EngineWindowedContext, EngineCloudStreaming}
}

// ParseEngineKind resolves a canonical name or alias. Matching is case-insensitive.
func ParseEngineKind(s string) (EngineKind, bool) {
	k, ok := engineAliases[strings.ToLower(strings.TrimSpace(s))]
	return k, ok
}

// FormatElapsed renders d as MM:SS.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
