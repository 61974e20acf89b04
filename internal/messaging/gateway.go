package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultGatewayTimeout = 10 * time.Second

type gatewayRequest struct {
	To        string `json:"to"`
	Channel   string `json:"channel"`
	Subject   string `json:"subject,omitempty"`
	Content   string `json:"content"`
	Reference string `json:"reference,omitempty"`
}

// WebhookGateway delivers messages through an HTTP messaging gateway.
type WebhookGateway struct {
	client   *resty.Client
	endpoint string
}

var _ Sender = (*WebhookGateway)(nil)

func NewWebhookGateway(endpoint string) (*WebhookGateway, error) {
	client := resty.New()
	client.SetTimeout(defaultGatewayTimeout)

	return NewWebhookGatewayWithClient(endpoint, client)
}

func NewWebhookGatewayWithClient(endpoint string, client *resty.Client) (*WebhookGateway, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("messaging gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid messaging gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	// Retries belong to the work queue, never to the HTTP client.
	client.SetRetryCount(0)

	return &WebhookGateway{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (g *WebhookGateway) Send(ctx context.Context, msg Message) (*Receipt, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("messaging gateway is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(gatewayRequest{
			To:        msg.To,
			Channel:   strings.ToLower(msg.Channel.String()),
			Subject:   msg.Subject,
			Content:   msg.Body,
			Reference: msg.Reference,
		}).
		Post(g.endpoint)
	if err != nil {
		return nil, &SendError{
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Receipt{
			StatusCode: statusCode,
			MessageID:  gatewayMessageID(response),
		}, nil
	}

	return nil, &SendError{
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func gatewayMessageID(response *resty.Response) string {
	for _, key := range []string{"X-Message-ID", "X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}
	return ""
}
