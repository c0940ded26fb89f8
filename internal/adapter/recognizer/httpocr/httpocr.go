// Package httpocr talks to an external text-detection engine over HTTP.
// The engine holds the model; this client sends a PNG and receives
// (polygon, text, confidence) tuples.
package httpocr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/recognizer"
	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// Client implements domain.Recognizer against an HTTP engine. The engine
// is probed lazily on first use; a failed probe surfaces
// ErrRecognizerUnavailable and is retried on the next call.
type Client struct {
	base     string
	language string
	pass     domain.Pass
	http     *http.Client

	mu    sync.Mutex
	ready bool
}

var _ domain.Recognizer = (*Client)(nil)

// New builds a client for the engine at base. pass labels the regions it
// produces (primary or secondary).
func New(base, language string, pass domain.Pass) *Client {
	return &Client{
		base:     base,
		language: language,
		pass:     pass,
		http:     &http.Client{Timeout: 120 * time.Second},
	}
}

// ensureReady probes the engine health endpoint once per process unless a
// previous probe failed.
func (c *Client) ensureReady(ctx domain.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("recognizer probe: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("recognizer probe: %w: %v", domain.ErrRecognizerUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recognizer probe status %d: %w", resp.StatusCode, domain.ErrRecognizerUnavailable)
	}
	c.ready = true
	return nil
}

type wireRegion struct {
	Box        [4][2]int `json:"box"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
}

type wireResponse struct {
	Regions []wireRegion `json:"regions"`
}

// Extract encodes the image as PNG and posts it to the engine.
func (c *Client) Extract(ctx domain.Context, img image.Image, threshold float64) ([]domain.TextRegion, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("recognizer encode: %w", err)
	}

	q := url.Values{}
	q.Set("lang", c.language)
	q.Set("min_confidence", strconv.FormatFloat(threshold, 'f', -1, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/extract?"+q.Encode(), &buf)
	if err != nil {
		return nil, fmt.Errorf("recognizer request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognizer extract: %w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognizer extract status %d: %w", resp.StatusCode, domain.ErrTransient)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("recognizer decode: %w", err)
	}

	regions := make([]domain.TextRegion, 0, len(wire.Regions))
	for _, w := range wire.Regions {
		var box [4]domain.Point
		for i, p := range w.Box {
			box[i] = domain.Point{X: p[0], Y: p[1]}
		}
		regions = append(regions, domain.TextRegion{Box: box, Text: w.Text, Confidence: w.Confidence})
	}
	return recognizer.Finalize(regions, threshold, c.pass), nil
}
