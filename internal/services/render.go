package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carelink/care-server/internal/models"
	"github.com/go-resty/resty/v2"
)

// Renderer turns validated document data into a PDF byte stream.
type Renderer interface {
	Render(ctx context.Context, data *models.DocumentData) ([]byte, error)
}

// HTTPRenderer calls an external PDF rendering service.
type HTTPRenderer struct {
	httpClient *resty.Client
}

// NewHTTPRenderer creates a rendering client for baseURL.
func NewHTTPRenderer(baseURL string, timeout time.Duration) *HTTPRenderer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/pdf")

	return &HTTPRenderer{httpClient: client}
}

func (r *HTTPRenderer) Render(ctx context.Context, data *models.DocumentData) ([]byte, error) {
	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetBody(data).
		Post("/render/care-certificate")
	if err != nil {
		return nil, fmt.Errorf("render request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("render service returned %s", resp.Status())
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, errors.New("render service returned an empty document")
	}
	return body, nil
}
