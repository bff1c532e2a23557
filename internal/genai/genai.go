// Package genai calls the Gemini-style generateContent REST API for
// the assistant's replies. One client serves both the text and the
// vision model; which model handles a turn is the caller's decision.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/internal/apperr"
)

// Client talks to one generateContent endpoint.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	textModel   string
	visionModel string
}

// Options configure the endpoint and the two model names.
type Options struct {
	BaseURL     string
	APIKey      string
	TextModel   string
	VisionModel string
}

func New(opts Options) *Client {
	return &Client{
		httpClient:  http.DefaultClient,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		textModel:   opts.TextModel,
		visionModel: opts.VisionModel,
	}
}

// Request and response shapes of the generateContent API. Only the
// fields this client reads or writes are declared.

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GenerateText produces a reply to a text-only prompt.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, c.textModel, []part{{Text: prompt}})
}

// GenerateVision produces a reply to a prompt about one inline image.
func (c *Client) GenerateVision(ctx context.Context, prompt, mimeType string, image []byte) (string, error) {
	parts := []part{
		{Text: prompt},
		{InlineData: &inlineData{
			MIMEType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(image),
		}},
	}
	return c.generate(ctx, c.visionModel, parts)
}

func (c *Client) generate(ctx context.Context, model string, parts []part) (string, error) {
	reqBody, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: parts}},
	})
	if err != nil {
		return "", apperr.Generation("encode request", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", apperr.Generation("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Generation(fmt.Sprintf("call model %s", model), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Generation("read response", err)
	}

	var result generateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", apperr.Generation(fmt.Sprintf("parse response (http %d)", resp.StatusCode), err)
	}
	if result.Error != nil {
		return "", apperr.Generation(fmt.Sprintf("model %s: %s (%s)", model, result.Error.Message, result.Error.Status), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.Generation(fmt.Sprintf("model %s: http %d", model, resp.StatusCode), nil)
	}

	for _, cand := range result.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				return p.Text, nil
			}
		}
	}
	return "", apperr.Generation(fmt.Sprintf("model %s returned no text", model), nil)
}
