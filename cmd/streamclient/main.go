// Command streamclient streams a WAV file or synthetic audio to the speech
// stream service and prints the transcript updates it receives.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ai-speech-stream-service/internal/api/ws"
	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/service/stt/mock"
)

type options struct {
	server       string
	engine       string
	wavPath      string
	chunkSamples int
	sampleRate   int
	utterances   int
	realtime     bool
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	var opts options
	cmd := &cobra.Command{
		Use:   "streamclient",
		Short: "Stream audio to /v1/stream and print transcript updates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, opts)
		},
		SilenceUsage: true,
	}
	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "ws://localhost:8080/v1/stream", "stream endpoint")
	f.StringVarP(&opts.engine, "engine", "e", ws.DefaultEngine, "engine name or alias")
	f.StringVar(&opts.wavPath, "wav", "", "16-bit mono PCM WAV file; synthetic audio when empty")
	f.IntVar(&opts.chunkSamples, "chunk-samples", 4096, "samples per binary frame")
	f.IntVar(&opts.sampleRate, "sample-rate", 16000, "sample rate of synthetic audio")
	f.IntVar(&opts.utterances, "utterances", 3, "synthetic utterances to generate")
	f.BoolVar(&opts.realtime, "realtime", true, "pace frames at playback speed")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	audio, rate, err := loadAudio(opts)
	if err != nil {
		return err
	}

	u, err := url.Parse(opts.server)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("engine", opts.engine)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("connect: %s: %s", resp.Status, bytes.TrimSpace(body))
		}
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- printUpdates(conn) }()

	chunkBytes := opts.chunkSamples * models.BytesPerSample
	interval := models.PCMDuration(chunkBytes, rate)
	var sent int
	for off := 0; off < len(audio); off += chunkBytes {
		end := min(off+chunkBytes, len(audio))
		if err := conn.WriteMessage(websocket.BinaryMessage, audio[off:end]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		sent++
		if opts.realtime {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	log.Info().Int("chunks", sent).Dur("audio", models.PCMDuration(len(audio), rate)).Msg("Audio sent, stopping")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		return fmt.Errorf("send stop: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func loadAudio(opts options) ([]byte, int, error) {
	if opts.wavPath == "" {
		var buf bytes.Buffer
		for i := 0; i < opts.utterances; i++ {
			buf.Write(mock.Silence(opts.sampleRate / 2))
			buf.Write(mock.Tone(opts.sampleRate*2, 0.4))
		}
		buf.Write(mock.Silence(opts.sampleRate / 2))
		return buf.Bytes(), opts.sampleRate, nil
	}

	f, err := os.Open(opts.wavPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	format, err := readWAVHeader(f)
	if err != nil {
		return nil, 0, err
	}
	log.Info().Uint32("sampleRate", format.SampleRate).Str("file", opts.wavPath).Msg("Streaming WAV")
	audio, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, fmt.Errorf("read audio: %w", err)
	}
	return audio, int(format.SampleRate), nil
}

func printUpdates(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read update: %w", err)
		}
		var m ws.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode update: %w", err)
		}

		switch m.Type {
		case ws.TypeSession:
			log.Info().Str("sessionId", m.SessionID).Str("engine", m.Engine).Msg("Session opened")
		case ws.TypePartial:
			fmt.Printf("[%s] … %s\n", m.Elapsed, m.Text)
		case ws.TypeFinal:
			if m.Error != "" {
				return errors.New(m.Error)
			}
			fmt.Printf("[%s] ✔ %s (segments=%d low=%v)\n", m.Elapsed, m.Text, m.Segments, m.LowConfidence)
		case ws.TypeMetrics:
			out, _ := json.MarshalIndent(m.Metrics, "", "  ")
			fmt.Printf("metrics:\n%s\n", out)
		default:
			log.Warn().Str("type", m.Type).Str("error", m.Error).Msg("Notice")
		}
	}
}
