package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
)

// ScoreRequest is what the scoring endpoint needs to grade a transcription
// against its question prompt.
type ScoreRequest struct {
	Text           string `json:"text"`
	Prompt         string `json:"prompt"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// ScoreResult is the band-score breakdown from the scoring service.
type ScoreResult struct {
	BandScore     float64 `json:"band_score"`
	Fluency       float64 `json:"fluency"`
	Vocabulary    float64 `json:"vocabulary"`
	Grammar       float64 `json:"grammar"`
	Pronunciation float64 `json:"pronunciation"`
	Feedback      string  `json:"feedback"`
}

// CorrectionRequest asks for a grammar-corrected version of a transcription.
type CorrectionRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Context  string `json:"context"` // the question prompt
}

// CorrectionDetail is one individual fix in a grammar correction.
type CorrectionDetail struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Reason    string `json:"reason"`
}

// GrammarCorrection is the refined version of a transcription.
type GrammarCorrection struct {
	Original    string             `json:"original"`
	Corrected   string             `json:"corrected"`
	Corrections []CorrectionDetail `json:"corrections"`
	Explanation string             `json:"explanation"`
}

// Scorer grades a transcription. Required by the pipeline.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error)
}

// GrammarCorrector refines a transcription. Optional: the pipeline survives
// its failure.
type GrammarCorrector interface {
	Correct(ctx context.Context, req CorrectionRequest) (*GrammarCorrection, error)
}

// AIServiceClient talks to the LLM-backed analysis service, which exposes
// both the scoring and the grammar-correction endpoints.
type AIServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewAIServiceClient(baseURL, token string) *AIServiceClient {
	return &AIServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *AIServiceClient) Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	var out ScoreResult
	if err := c.post(ctx, "/v1/speaking/score", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *AIServiceClient) Correct(ctx context.Context, req CorrectionRequest) (*GrammarCorrection, error) {
	var out GrammarCorrection
	if err := c.post(ctx, "/v1/grammar/correct", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *AIServiceClient) post(ctx context.Context, path string, payload, out interface{}) error {
	return retry.Do(
		func() error {
			return c.postOnce(ctx, path, payload, out)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	)
}

func (c *AIServiceClient) postOnce(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return &transientError{err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("ai service %s returned %d: %s", path, resp.StatusCode, string(respBody))
		if resp.StatusCode >= 500 {
			return &transientError{err}
		}
		return err
	}

	return json.Unmarshal(respBody, out)
}
