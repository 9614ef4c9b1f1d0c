// Command transcriptviewer follows the transcript topics on Kafka and prints
// completed transcripts and mirrored updates as they arrive.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"ai-speech-stream-service/internal/models"
)

type options struct {
	brokers  string
	topics   []string
	lookback time.Duration
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	var opts options
	cmd := &cobra.Command{
		Use:   "transcriptviewer",
		Short: "Print transcripts published by the speech stream service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, opts, os.Stdout)
		},
		SilenceUsage: true,
	}
	f := cmd.Flags()
	f.StringVar(&opts.brokers, "brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	f.StringSliceVar(&opts.topics, "topic", []string{
		"interaction.transcript.completed",
		"interaction.transcript.final",
	}, "topics to follow")
	f.DurationVar(&opts.lookback, "lookback", time.Hour, "replay messages newer than this")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	brokers := strings.Split(opts.brokers, ",")
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, topic := range opts.topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			consume(ctx, brokers, topic, opts.lookback, func(line string) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintln(out, line)
			})
		}(topic)
	}
	wg.Wait()
	return nil
}

// consume uses a partition reader without a consumer group, which works
// through a port-forward.
func consume(ctx context.Context, brokers []string, topic string, lookback time.Duration, emit func(string)) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-lookback)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from the start")
	}
	log.Info().Str("topic", topic).Dur("lookback", lookback).Msg("Consuming")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}
		line, err := format(msg.Value)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Skipping undecodable message")
			continue
		}
		emit(line)
	}
}

// format renders a completed transcript or a mirrored update as one line.
func format(value []byte) (string, error) {
	var envelope struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(value, &envelope); err != nil {
		return "", err
	}

	if envelope.EventType == "stream.transcript.completed" {
		var ev models.TranscriptCompleted
		if err := json.Unmarshal(value, &ev); err != nil {
			return "", err
		}
		line := fmt.Sprintf("COMPLETED %s [%s, %s, %.1fs] %s",
			short(ev.SessionID), ev.Engine, ev.CloseReason, ev.AudioSeconds, ev.Text)
		if len(ev.LowConfidence) > 0 {
			line += fmt.Sprintf(" (low confidence: %s)", strings.Join(ev.LowConfidence, ", "))
		}
		return line, nil
	}

	var ev models.TranscriptEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return "", err
	}
	kind := strings.ToUpper(strings.TrimPrefix(ev.EventType, "stream.transcript."))
	return fmt.Sprintf("%-9s %s [%s %s] %s", kind, short(ev.SessionID), ev.Engine, ev.Elapsed, ev.Text), nil
}

func short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
