package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
)

func testMessage() Message {
	return Message{
		Channel:   domain.ChannelSMS,
		To:        "+905551112233",
		Body:      "Your code: ABC123",
		OwnerID:   "owner-1",
		Reference: "job-1:3",
	}
}

func TestWebhookGatewaySendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody gatewayRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("X-Request-ID", "gateway-msg-1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	g, err := NewWebhookGateway(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookGateway() error = %v", err)
	}

	msg := testMessage()
	receipt, err := g.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if receipt.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", receipt.StatusCode, http.StatusAccepted)
	}
	if receipt.MessageID != "gateway-msg-1" {
		t.Fatalf("MessageID = %q, want %q", receipt.MessageID, "gateway-msg-1")
	}
	if gotBody.To != msg.To {
		t.Fatalf("request.to = %q, want %q", gotBody.To, msg.To)
	}
	if gotBody.Channel != "sms" {
		t.Fatalf("request.channel = %q, want %q", gotBody.Channel, "sms")
	}
	if gotBody.Content != msg.Body {
		t.Fatalf("request.content = %q, want %q", gotBody.Content, msg.Body)
	}
	if gotBody.Reference != msg.Reference {
		t.Fatalf("request.reference = %q, want %q", gotBody.Reference, msg.Reference)
	}
}

func TestWebhookGatewaySendStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name           string
		statusCode     int
		wantTransient  bool
		wantRowFailure bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantRowFailure: true},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
		{name: "unprocessable entity is permanent", statusCode: http.StatusUnprocessableEntity, wantRowFailure: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("gateway failed"))
			}))
			defer server.Close()

			g, err := NewWebhookGateway(server.URL)
			if err != nil {
				t.Fatalf("NewWebhookGateway() error = %v", err)
			}

			_, err = g.Send(context.Background(), testMessage())
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}
			if got := IsRowFailure(err); got != tc.wantRowFailure {
				t.Fatalf("IsRowFailure() = %v, want %v", got, tc.wantRowFailure)
			}

			var sendErr *SendError
			if !errors.As(err, &sendErr) {
				t.Fatalf("expected SendError, got %T", err)
			}
			if sendErr.StatusCode != tc.statusCode {
				t.Fatalf("SendError.StatusCode = %d, want %d", sendErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestWebhookGatewaySendTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	g, err := NewWebhookGatewayWithClient(server.URL, client)
	if err != nil {
		t.Fatalf("NewWebhookGatewayWithClient() error = %v", err)
	}

	_, err = g.Send(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
	if IsRowFailure(err) {
		t.Fatal("IsRowFailure() = true, want false for timeout")
	}
}

func TestWebhookGatewayRejectsInvalidMessage(t *testing.T) {
	t.Parallel()

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	g, err := NewWebhookGateway(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookGateway() error = %v", err)
	}

	msg := testMessage()
	msg.To = " "
	_, err = g.Send(context.Background(), msg)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Send() error = %v, want ErrValidation", err)
	}
	if called {
		t.Fatal("gateway should not be called for an invalid message")
	}
}

func TestNewWebhookGatewayValidatesEndpoint(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"", "   ", "not a url"} {
		if _, err := NewWebhookGateway(endpoint); err == nil {
			t.Fatalf("NewWebhookGateway(%q) expected error", endpoint)
		}
	}
}
