package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"speaking-practice-system/utils"

	"github.com/avast/retry-go"
	"golang.org/x/text/language"
)

// Transcription is what the speech service returns for an audio clip.
type Transcription struct {
	Text        string `json:"text"`
	Language    string `json:"language"`
	DurationSec int    `json:"duration_sec"`
}

// Transcriber converts raw audio into text. Implemented by the speech
// service client; faked in tests.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (*Transcription, error)
}

// SpeechServiceClient calls the speech-to-text service.
type SpeechServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewSpeechServiceClient(baseURL, token string) *SpeechServiceClient {
	return &SpeechServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  utils.HTTPClient, // audio uploads can run long
	}
}

// Transcribe posts the audio as multipart form data and decodes the
// transcription. Transient failures (network, 5xx) are retried a few times
// before the caller sees an error.
func (c *SpeechServiceClient) Transcribe(ctx context.Context, audio []byte, filename string) (*Transcription, error) {
	var out Transcription
	err := retry.Do(
		func() error {
			return c.transcribeOnce(ctx, audio, filename, &out)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	)
	if err != nil {
		return nil, err
	}

	// Normalize whatever tag the service reports ("en-US", "english", ...)
	// to a base BCP-47 code; scoring expects one.
	if tag, parseErr := language.Parse(out.Language); parseErr == nil {
		base, _ := tag.Base()
		out.Language = base.String()
	} else if out.Language != "" {
		log.Printf("[SPEECH] Unrecognized language tag %q, passing through", out.Language)
	}
	return &out, nil
}

func (c *SpeechServiceClient) transcribeOnce(ctx context.Context, audio []byte, filename string, out *Transcription) error {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(audio); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/transcriptions", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return &transientError{err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("speech service returned %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 500 {
			return &transientError{err}
		}
		return err
	}

	return json.Unmarshal(respBody, out)
}

// transientError marks failures worth retrying.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
