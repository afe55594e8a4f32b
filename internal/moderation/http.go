package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// classifierResponse is the wire shape both classifier services answer with.
type classifierResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// HTTPTextClassifier calls a text-toxicity classifier service.
type HTTPTextClassifier struct {
	url string
	hc  *http.Client
}

// NewHTTPTextClassifier creates a client for the classifier at url.
func NewHTTPTextClassifier(url string, timeout time.Duration) *HTTPTextClassifier {
	return &HTTPTextClassifier{
		url: url,
		hc:  &http.Client{Timeout: timeout},
	}
}

// Classify posts the text and returns per-category toxicity probabilities.
func (c *HTTPTextClassifier) Classify(ctx context.Context, text string) (map[string]float64, error) {
	return classify(ctx, c.hc, c.url, map[string]string{"text": text})
}

// HTTPImageClassifier calls an image NSFW classifier service.
type HTTPImageClassifier struct {
	url string
	hc  *http.Client
}

// NewHTTPImageClassifier creates a client for the classifier at url.
func NewHTTPImageClassifier(url string, timeout time.Duration) *HTTPImageClassifier {
	return &HTTPImageClassifier{
		url: url,
		hc:  &http.Client{Timeout: timeout},
	}
}

// Classify posts the image URL and returns per-category NSFW probabilities.
func (c *HTTPImageClassifier) Classify(ctx context.Context, imageURL string) (map[string]float64, error) {
	return classify(ctx, c.hc, c.url, map[string]string{"url": imageURL})
}

func classify(ctx context.Context, hc *http.Client, url string, payload map[string]string) (map[string]float64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call classifier: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var decoded classifierResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decoded.Scores, nil
}
