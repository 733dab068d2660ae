package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func newTestClient(t *testing.T, handle func(ctx context.Context, conn *websocket.Conn, req synthesisRequest)) (*Lokutor, func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req synthesisRequest
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		handle(r.Context(), conn, req)
	}))

	client := &Lokutor{
		apiKey: "test-key",
		host:   strings.TrimPrefix(server.URL, "http://"),
		scheme: "ws",
		speed:  1.05,
		logger: NoOpLogger{},
	}
	return client, server.Close
}

func TestLokutorSynthesizeDecodesStreamedPCM(t *testing.T) {
	client, closeServer := newTestClient(t, func(ctx context.Context, conn *websocket.Conn, req synthesisRequest) {
		if req.Text != "hello" || req.Version != "versa-1.0" {
			conn.Write(ctx, websocket.MessageText, []byte("ERR: bad request"))
			return
		}
		// Two chunks of little-endian int16: {1, 32767} then {-1}.
		conn.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x00, 0xff, 0x7f})
		conn.Write(ctx, websocket.MessageBinary, []byte{0xff, 0xff})
		conn.Write(ctx, websocket.MessageText, []byte("EOS"))
	})
	defer closeServer()

	pcm, err := client.Synthesize(context.Background(), "hello", "F1", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int16{1, 32767, -1}
	if len(pcm) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(pcm))
	}
	for i := range want {
		if pcm[i] != want[i] {
			t.Errorf("sample %d: got %d want %d", i, pcm[i], want[i])
		}
	}
	if client.Name() != "lokutor" {
		t.Errorf("expected lokutor, got %s", client.Name())
	}
}

func TestLokutorServerErrorSurfaces(t *testing.T) {
	client, closeServer := newTestClient(t, func(ctx context.Context, conn *websocket.Conn, req synthesisRequest) {
		conn.Write(ctx, websocket.MessageText, []byte("ERR: synthesis failed"))
	})
	defer closeServer()

	_, err := client.Synthesize(context.Background(), "hi", "F1", "en")
	if err == nil {
		t.Fatalf("expected the ERR message to surface as an error")
	}
	if !strings.Contains(err.Error(), "synthesis failed") {
		t.Errorf("error should carry the server message, got %v", err)
	}
}

func TestLokutorIgnoresUnknownStatusMessages(t *testing.T) {
	client, closeServer := newTestClient(t, func(ctx context.Context, conn *websocket.Conn, req synthesisRequest) {
		conn.Write(ctx, websocket.MessageText, []byte("queued"))
		conn.Write(ctx, websocket.MessageBinary, []byte{0x09, 0x00})
		conn.Write(ctx, websocket.MessageText, []byte("EOS"))
	})
	defer closeServer()

	pcm, err := client.Synthesize(context.Background(), "hi", "F1", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pcm) != 1 || pcm[0] != 9 {
		t.Errorf("unexpected audio %v", pcm)
	}
}
