package inpaint

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var ErrUpstream = errors.New("inpainting service error")

// maxResponseBytes bounds the image read back from the service.
const maxResponseBytes = 32 << 20

type Request struct {
	Prompt string
	Image  []byte // PNG
	Mask   []byte // PNG, same dimensions as Image
}

// Client performs one image-completion call.
type Client interface {
	Inpaint(ctx context.Context, req Request) ([]byte, error)
}

// HTTPClient talks to a Hugging Face style inference endpoint.
type HTTPClient struct {
	URL   string
	Token string
	HTTP  *http.Client
}

func NewHTTPClient(url, token string) *HTTPClient {
	return &HTTPClient{URL: url, Token: token, HTTP: &http.Client{}}
}

type inferenceBody struct {
	Inputs    string `json:"inputs"`
	Image     string `json:"image"`
	MaskImage string `json:"mask_image"`
}

func (c *HTTPClient) Inpaint(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(inferenceBody{
		Inputs:    req.Prompt,
		Image:     base64.StdEncoding.EncodeToString(req.Image),
		MaskImage: base64.StdEncoding.EncodeToString(req.Mask),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling inpainting service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, snippet(data))
	}
	return data, nil
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
