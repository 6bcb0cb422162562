package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notification is a message handed to the delivery gateway.
type Notification struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Link    string `json:"link,omitempty"`
}

// NotifyResult is the outcome reported by the gateway.
type NotifyResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Notifier delivers email/SMS. Callers log the result and never retry.
type Notifier interface {
	Send(ctx context.Context, destination string, n Notification) NotifyResult
}

// WebhookNotifier posts notifications to an email/SMS gateway over HTTP.
// Retries, if configured, are the gateway client's own concern.
type WebhookNotifier struct {
	httpClient *resty.Client
	logger     *zap.SugaredLogger
}

// NewWebhookNotifier creates a gateway client for baseURL.
func NewWebhookNotifier(baseURL string, retryCount int, logger *zap.SugaredLogger) *WebhookNotifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(retryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{httpClient: client, logger: logger}
}

type webhookRequest struct {
	Destination string `json:"destination"`
	Notification
}

func (n *WebhookNotifier) Send(ctx context.Context, destination string, msg Notification) NotifyResult {
	var result NotifyResult
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(webhookRequest{Destination: destination, Notification: msg}).
		SetResult(&result).
		Post("/notifications")
	if err != nil {
		return NotifyResult{Error: fmt.Sprintf("gateway request failed: %v", err)}
	}
	if resp.IsError() {
		return NotifyResult{Error: fmt.Sprintf("gateway returned %s", resp.Status())}
	}
	if !result.Success && result.Error == "" {
		// Gateways that answer 2xx without a body are treated as accepted.
		result.Success = true
	}
	return result
}

// LogNotifier stands in for the gateway in development: it only logs.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, destination string, msg Notification) NotifyResult {
	n.logger.Infow("Notification (not delivered, no gateway configured)",
		"destination", destination,
		"kind", msg.Kind,
		"link", msg.Link,
	)
	return NotifyResult{Success: true}
}
