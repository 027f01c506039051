package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrRejected marks a message the email service refused. Retrying will not help.
var ErrRejected = errors.New("email rejected")

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EmailClient calls the email service through a circuit breaker. The breaker opens after
// five consecutive transport or 5xx failures and probes again after 30s.
type EmailClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[struct{}]
}

func NewEmailClient(baseURL string, client *http.Client, logger *slog.Logger) *EmailClient {
	settings := gobreaker.Settings{
		Name:        "email-service",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &EmailClient{
		baseURL:    baseURL,
		httpClient: client,
		breaker:    gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

func (c *EmailClient) Send(ctx context.Context, msg Message) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.post(ctx, msg)
	})
	return err
}

func (c *EmailClient) post(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: email service returned status %d", ErrRejected, resp.StatusCode)
	default:
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}
}
