// Package tts speaks transcripts back through the hosted Lokutor
// streaming synthesis endpoint. The subsystem only needs the collaborator
// contract "text in, mono int16 PCM out"; this client is deliberately
// that thin.
package tts

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-ptt/pkg/audio"
)

// Synthesizer is the downstream contract for turning a transcript into
// playable PCM.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, language string) ([]int16, error)
	Name() string
}

// Logger is the minimal structured logging contract this package needs.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, args ...interface{}) {}
func (NoOpLogger) Info(msg string, args ...interface{})  {}
func (NoOpLogger) Warn(msg string, args ...interface{})  {}
func (NoOpLogger) Error(msg string, args ...interface{}) {}

// SampleRate is the rate of the PCM Lokutor streams back.
const SampleRate = 24000

// synthesisRequest is the wire request one Synthesize call sends.
type synthesisRequest struct {
	Text    string  `json:"text"`
	Voice   string  `json:"voice"`
	Lang    string  `json:"lang"`
	Speed   float64 `json:"speed"`
	Steps   int     `json:"steps"`
	Version string  `json:"version"`
}

// Lokutor synthesizes one utterance per call over a short-lived websocket.
// Each call dials fresh: utterances here are occasional (one per captured
// turn), so a cached connection buys nothing and a half-dead one would
// cost a failed turn.
type Lokutor struct {
	apiKey string
	host   string
	scheme string
	speed  float64
	logger Logger
}

// NewLokutor builds a client for the hosted Lokutor endpoint.
func NewLokutor(apiKey string, logger Logger) *Lokutor {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Lokutor{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		scheme: "wss",
		speed:  1.05,
		logger: logger,
	}
}

// Synthesize sends one request and collects the binary audio stream until
// the server signals end of stream, returning it as mono int16 samples.
func (t *Lokutor) Synthesize(ctx context.Context, text, voice, language string) ([]int16, error) {
	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tts: dial lokutor: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	req := synthesisRequest{
		Text:    text,
		Voice:   voice,
		Lang:    language,
		Speed:   t.speed,
		Steps:   5,
		Version: "versa-1.0",
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return nil, fmt.Errorf("tts: send synthesis request: %w", err)
	}

	var raw []byte
	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("tts: read from lokutor: %w", err)
		}
		if messageType == websocket.MessageBinary {
			raw = append(raw, payload...)
			continue
		}
		msg := string(payload)
		switch {
		case msg == "EOS":
			return audio.PCMFromBytes(raw), nil
		case strings.HasPrefix(msg, "ERR:"):
			return nil, fmt.Errorf("tts: lokutor rejected synthesis: %s", strings.TrimSpace(strings.TrimPrefix(msg, "ERR:")))
		default:
			t.logger.Debug("ignoring lokutor status message", "message", msg)
		}
	}
}

// Name identifies the backing provider.
func (t *Lokutor) Name() string { return "lokutor" }
