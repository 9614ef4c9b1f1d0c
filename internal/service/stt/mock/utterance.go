// Package mock provides scripted recognition backends for local development
// and tests. They simulate realistic recognizer behaviour without models or
// cloud credentials: progressive partials while speech arrives and one final
// per utterance, ended by silence or by running out of partials.
package mock

import (
	"errors"
	"strings"
	"sync"

	"ai-speech-stream-service/internal/models"
)

// SilenceThreshold is the normalised amplitude below which a chunk counts as
// silence.
const SilenceThreshold = 0.01

// ErrInjected is returned by backends configured to fail.
var ErrInjected = errors.New("mock: injected failure")

// Utterance is a scripted utterance with progressive partial transcripts.
type Utterance struct {
	Partials   []string
	Final      string
	Confidence float64
	// Words overrides the per-word confidences derived from Confidence.
	Words []models.Word
}

// WordList returns the words of the final transcript with confidences.
func (u Utterance) WordList() []models.Word {
	if u.Words != nil {
		return u.Words
	}
	fields := strings.Fields(u.Final)
	words := make([]models.Word, len(fields))
	for i, f := range fields {
		words[i] = models.Word{Text: f, Confidence: u.Confidence}
	}
	return words
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []Utterance{
	{
		Partials:   []string{"I want", "I want to", "I want to cancel"},
		Final:      "I want to cancel my subscription",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Yes", "Yes please"},
		Final:      "Yes please go ahead",
		Confidence: 0.97,
	},
	{
		Partials: []string{"Can you", "Can you help", "Can you help me with"},
		Final:    "Can you help me with my account",
		Words: []models.Word{
			{Text: "Can", Confidence: 0.93}, {Text: "you", Confidence: 0.95},
			{Text: "help", Confidence: 0.91}, {Text: "me", Confidence: 0.9},
			{Text: "with", Confidence: 0.88}, {Text: "my", Confidence: 0.92},
			{Text: "account", Confidence: 0.62},
		},
	},
	{
		Partials:   []string{"I've been", "I've been waiting", "I've been waiting for"},
		Final:      "I've been waiting for over an hour",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// utteranceCounter rotates the starting utterance across default-scripted
// backends so concurrent sessions produce different text.
var (
	utteranceCounter int
	counterMu        sync.Mutex
)

func defaultScript(script []Utterance) ([]Utterance, int) {
	if len(script) > 0 {
		return script, 0
	}
	counterMu.Lock()
	defer counterMu.Unlock()
	start := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	return DefaultUtterances, start
}

// cursor walks a script one audio chunk at a time.
type cursor struct {
	script     []Utterance
	idx        int
	partialIdx int
}

func newCursor(script []Utterance) *cursor {
	s, start := defaultScript(script)
	return &cursor{script: s, idx: start}
}

// step advances on one chunk. It returns the current partial (empty during
// leading silence) or the utterance that just completed.
func (c *cursor) step(pcm []byte) (string, *Utterance) {
	cur := c.script[c.idx]
	speech := models.Amplitude(pcm) >= SilenceThreshold

	if !speech {
		if c.partialIdx > 0 {
			return "", c.complete()
		}
		return "", nil
	}
	if c.partialIdx < len(cur.Partials) {
		p := cur.Partials[c.partialIdx]
		c.partialIdx++
		return p, nil
	}
	return "", c.complete()
}

// flush completes an utterance that has started but not finished.
func (c *cursor) flush() *Utterance {
	if c.partialIdx == 0 {
		return nil
	}
	return c.complete()
}

func (c *cursor) complete() *Utterance {
	u := c.script[c.idx]
	c.idx = (c.idx + 1) % len(c.script)
	c.partialIdx = 0
	return &u
}
