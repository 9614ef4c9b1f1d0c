// Package google dials Google Cloud Speech-to-Text streaming recognition for
// the cloud-streaming engine.
package google

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/service/stt/cloud"
)

// Config holds the recognition settings sent when a stream opens.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	// WordConfidence requests per-word confidences on final results.
	WordConfidence bool
}

// DefaultConfig returns the settings for 16 kHz LINEAR16 English audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		WordConfidence: true,
	}
}

// Dialer implements cloud.Dialer. One client is shared by every session.
type Dialer struct {
	client *speech.Client
	cfg    Config
}

var _ cloud.Dialer = (*Dialer)(nil)

// New creates a Dialer.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Dialer, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Dialer{client: c, cfg: cfg}, nil
}

// Dial opens a streaming recognition call and sends the config as the first
// message.
func (d *Dialer) Dial(ctx context.Context) (cloud.Stream, error) {
	rpc, err := d.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("open streaming recognize: %w", err)
	}

	err = rpc.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(d.cfg.AudioEncoding),
					SampleRateHertz:            int32(d.cfg.SampleRateHz),
					LanguageCode:               d.cfg.LanguageCode,
					EnableWordConfidence:       d.cfg.WordConfidence,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: d.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		_ = rpc.CloseSend()
		return nil, fmt.Errorf("send streaming config: %w", err)
	}
	return &stream{rpc: rpc}, nil
}

// Close releases the underlying client connection.
func (d *Dialer) Close() error {
	return d.client.Close()
}

type stream struct {
	rpc     speechpb.Speech_StreamingRecognizeClient
	pending []cloud.Result
}

func (s *stream) Send(pcm []byte) error {
	return s.rpc.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: pcm,
		},
	})
}

// Recv returns results one at a time; a response may carry several.
func (s *stream) Recv() (cloud.Result, error) {
	for len(s.pending) == 0 {
		resp, err := s.rpc.Recv()
		if err != nil {
			return cloud.Result{}, err
		}
		if e := resp.GetError(); e != nil {
			return cloud.Result{}, fmt.Errorf("speech stream error %d: %s", e.GetCode(), e.GetMessage())
		}
		s.pending = translateResponse(resp)
	}
	r := s.pending[0]
	s.pending = s.pending[1:]
	return r, nil
}

func (s *stream) CloseSend() error {
	return s.rpc.CloseSend()
}

func translateResponse(resp *speechpb.StreamingRecognizeResponse) []cloud.Result {
	var out []cloud.Result
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		res := cloud.Result{
			Text:       alt.GetTranscript(),
			IsFinal:    r.GetIsFinal(),
			Confidence: float64(alt.GetConfidence()),
		}
		for _, w := range alt.GetWords() {
			res.Words = append(res.Words, models.Word{Text: w.GetWord(), Confidence: float64(w.GetConfidence())})
		}
		out = append(out, res)
	}
	return out
}

// parseAudioEncoding maps an encoding name to the API enum. Unknown names,
// including lowercase spellings, fall back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
