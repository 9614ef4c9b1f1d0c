package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/observability/metrics"
	"ai-speech-stream-service/internal/service/engine"
	"ai-speech-stream-service/internal/service/session"
	"ai-speech-stream-service/internal/service/stt/incremental"
	"ai-speech-stream-service/internal/service/stt/mock"
	"ai-speech-stream-service/internal/service/workerpool"
)

var helloWorld = mock.Utterance{
	Partials: []string{"hello"},
	Final:    "hello world",
	Words:    []models.Word{{Text: "hello", Confidence: 0.95}, {Text: "world", Confidence: 0.4}},
}

type scriptedBackends struct {
	*mock.Backends
}

func (b scriptedBackends) Recognizer(ctx context.Context) (incremental.Recognizer, error) {
	return mock.NewRecognizer(helloWorld), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	f := engine.NewFactory(scriptedBackends{mock.NewBackends(0)}, workerpool.New(1, m), engine.Options{}, m)
	mgr := session.NewManager(f, session.ManagerConfig{Metrics: m})
	srv := httptest.NewServer(NewHandler(mgr, f, Config{}))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Shutdown(context.Background())
	})
	return srv, mgr
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (Message, bool) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return Message{}, false
		}
		t.Fatalf("read: %v", err)
	}
	return m, true
}

func TestHandler_UnknownEngine(t *testing.T) {
	srv, mgr := newTestServer(t)

	resp, err := http.Get(srv.URL + "/?engine=dragon")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	var m Message
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != TypeError || !strings.Contains(m.Error, "dragon") {
		t.Errorf("unexpected error body %+v", m)
	}
	if mgr.Count() != 0 {
		t.Error("rejected stream must not create a session")
	}
}

func TestHandler_WordIncrementalStream(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "engine=vosk")

	hello, _ := readMessage(t, conn)
	if hello.Type != TypeSession || hello.SessionID == "" || hello.Engine != "word_incremental" {
		t.Fatalf("unexpected hello %+v", hello)
	}

	silence, speech := mock.Silence(4096), mock.Tone(4096, 0.5)
	for _, chunk := range [][]byte{silence, silence, silence, speech, speech} {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			t.Fatal(err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatal(err)
	}

	var got []Message
	for {
		m, ok := readMessage(t, conn)
		if !ok {
			break
		}
		got = append(got, m)
	}

	if len(got) != 3 {
		t.Fatalf("expected partial, final and metrics, got %+v", got)
	}
	if got[0].Type != TypePartial || got[0].Partial != "hello" {
		t.Errorf("expected partial 'hello', got %+v", got[0])
	}
	final := got[1]
	if final.Type != TypeFinal || !final.IsFinal || final.Text != "hello world" {
		t.Errorf("expected final 'hello world', got %+v", final)
	}
	if !reflect.DeepEqual(final.LowConfidence, []string{"world"}) {
		t.Errorf("expected low-confidence [world], got %v", final.LowConfidence)
	}
	if len(final.Result) != 2 || final.Result[1].Confidence != 0.4 {
		t.Errorf("expected word confidences, got %+v", final.Result)
	}
	metricsMsg := got[2]
	if metricsMsg.Type != TypeMetrics || metricsMsg.Metrics == nil {
		t.Fatalf("expected closing metrics, got %+v", metricsMsg)
	}
	if metricsMsg.Metrics.Chunks != 5 || metricsMsg.Metrics.Reason != session.ReasonClientStop {
		t.Errorf("unexpected metrics %+v", metricsMsg.Metrics)
	}
}

func TestHandler_DisconnectTerminatesSession(t *testing.T) {
	srv, mgr := newTestServer(t)
	conn := dial(t, srv, "engine=windowed_context")

	hello, _ := readMessage(t, conn)
	s, ok := mgr.Get(hello.SessionID)
	if !ok {
		t.Fatalf("session %s not registered", hello.SessionID)
	}
	conn.Close()

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session not closed after disconnect")
	}
	if s.Reason() != session.ReasonClientDisconnect {
		t.Errorf("expected %s, got %s", session.ReasonClientDisconnect, s.Reason())
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		in   models.TranscriptUpdate
		want Message
	}{
		{
			name: "partial",
			in:   models.TranscriptUpdate{Kind: models.UpdatePartial, Text: "hel", Elapsed: "00:01"},
			want: Message{Type: TypePartial, Text: "hel", Partial: "hel", Elapsed: "00:01"},
		},
		{
			name: "status partial",
			in:   models.TranscriptUpdate{Kind: models.UpdatePartial, Text: "...", Status: true},
			want: Message{Type: TypePartial, Text: "...", Partial: "...", Status: true},
		},
		{
			name: "final",
			in: models.TranscriptUpdate{
				Kind:     models.UpdateFinal,
				Text:     "a b",
				Segments: 2,
				Words:    []models.Word{{Text: "a", Confidence: 1}},
			},
			want: Message{Type: TypeFinal, Text: "a b", IsFinal: true, Segments: 2, Result: []models.Word{{Text: "a", Confidence: 1}}},
		},
		{
			name: "terminal error",
			in:   models.TranscriptUpdate{Kind: models.UpdateFinal, Error: "boom"},
			want: Message{Type: TypeFinal, IsFinal: true, Error: "boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Encode(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Encode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBackpressureMessage_NamesDroppedChunk(t *testing.T) {
	raw, err := json.Marshal(backpressureMessage(640))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != TypeBackpressure || got["dropped"] != DroppedNewest || got["dropped_bytes"] != float64(640) {
		t.Errorf("unexpected backpressure notice %s", raw)
	}
}
