// Package stt provides speech-to-text clients for the utterances the
// recorder paths capture: mono 16kHz int16 PCM in, transcript out.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/lokutor-ai/lokutor-ptt/pkg/audio"
)

// Transcriber is the downstream contract for one captured utterance.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, language string) (string, error)
	Name() string
}

// Client transcribes audio through an OpenAI-compatible transcription
// endpoint (Groq and OpenAI both speak this protocol).
type Client struct {
	name       string
	url        string
	apiKey     string
	model      string
	sampleRate int
	httpClient *http.Client
}

// NewGroq builds a client for Groq's whisper endpoint.
func NewGroq(apiKey, model string) *Client {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &Client{
		name:       "groq-stt",
		url:        "https://api.groq.com/openai/v1/audio/transcriptions",
		apiKey:     apiKey,
		model:      model,
		sampleRate: 16000,
		httpClient: http.DefaultClient,
	}
}

// NewOpenAI builds a client for OpenAI's transcription endpoint.
func NewOpenAI(apiKey, model string) *Client {
	if model == "" {
		model = "whisper-1"
	}
	return &Client{
		name:       "openai-stt",
		url:        "https://api.openai.com/v1/audio/transcriptions",
		apiKey:     apiKey,
		model:      model,
		sampleRate: 16000,
		httpClient: http.DefaultClient,
	}
}

// SetSampleRate overrides the WAV header's sample rate for callers whose
// capture path runs at something other than 16kHz.
func (c *Client) SetSampleRate(rate int) { c.sampleRate = rate }

// Name identifies the backing provider.
func (c *Client) Name() string { return c.name }

// Transcribe uploads the utterance as a WAV and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, pcm []int16, language string) (string, error) {
	wavData := audio.NewWavBuffer(pcm, c.sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", c.model); err != nil {
		return "", err
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return "", err
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("%s error (status %d): %v", c.name, resp.StatusCode, errResp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}
