package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/un-fck/webtv.unfck.org/internal/types"
)

// Upstream job status values.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobError      = "error"
)

// PollResult is one snapshot of an upstream transcription job. Paragraphs
// are authoritative once Status is completed; Error carries the upstream
// message verbatim when Status is error.
type PollResult struct {
	Status     string
	Language   string
	Paragraphs []types.RawParagraph
	Error      string
}

// Client talks to the speech-to-text service. Submission is fire-and-forget;
// completion is observed by polling.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logrus.Entry
}

func NewClient(baseURL, apiKey string, log *logrus.Entry) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

type submitRequest struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
	LanguageCode  string `json:"language_code,omitempty"`
}

type transcriptResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	LanguageCode string `json:"language_code"`
	Error        string `json:"error"`
	Utterances   []struct {
		Speaker string  `json:"speaker"`
		Text    string  `json:"text"`
		Start   int64   `json:"start"`
		End     int64   `json:"end"`
		Words   []struct {
			Text       string  `json:"text"`
			Start      int64   `json:"start"`
			End        int64   `json:"end"`
			Confidence float64 `json:"confidence"`
		} `json:"words"`
	} `json:"utterances"`
}

// Submit sends an audio URL for transcription and returns the transcript id
// assigned by the service.
func (c *Client) Submit(ctx context.Context, audioURL, language string) (string, error) {
	payload, err := json.Marshal(submitRequest{
		AudioURL:      audioURL,
		SpeakerLabels: true,
		LanguageCode:  language,
	})
	if err != nil {
		return "", err
	}

	var resp transcriptResponse
	err = c.doJSON(ctx, http.MethodPost, c.baseURL+"/v2/transcript", payload, &resp)
	if err != nil {
		return "", fmt.Errorf("submit transcription: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("submit transcription: service returned no id")
	}

	c.log.WithFields(logrus.Fields{
		"transcript_id": resp.ID,
		"audio_url":     audioURL,
	}).Info("transcription submitted")
	return resp.ID, nil
}

// Poll fetches the current state of an upstream job. Transient server
// errors are retried internally; scheduling repeated polls is the caller's
// responsibility.
func (c *Client) Poll(ctx context.Context, transcriptID string) (*PollResult, error) {
	var resp transcriptResponse
	url := fmt.Sprintf("%s/v2/transcript/%s", c.baseURL, transcriptID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, fmt.Errorf("poll transcription: %w", err)
	}

	result := &PollResult{
		Status:   resp.Status,
		Language: resp.LanguageCode,
		Error:    resp.Error,
	}
	if resp.Status != JobCompleted {
		return result, nil
	}

	result.Paragraphs = make([]types.RawParagraph, 0, len(resp.Utterances))
	for _, u := range resp.Utterances {
		p := types.RawParagraph{
			Speaker: u.Speaker,
			Text:    u.Text,
			StartMs: u.Start,
			EndMs:   u.End,
		}
		for _, w := range u.Words {
			p.Words = append(p.Words, types.Word{
				Text:       w.Text,
				StartMs:    w.Start,
				EndMs:      w.End,
				Confidence: w.Confidence,
			})
		}
		result.Paragraphs = append(result.Paragraphs, p)
	}
	return result, nil
}

// doJSON performs one HTTP exchange with retry on transient (5xx/network)
// failures. Non-retryable statuses fail immediately.
func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)

	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("http %d: %s", resp.StatusCode, data)
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("http %d: %s", resp.StatusCode, data))
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	return backoff.Retry(operation, bo)
}
