package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/constants"
	"voice-call-orchestrator/pkg/metrics"
)

var ErrUnexpectedStatus = errors.New("webhook returned unexpected status")

type Config struct {
	URL        string
	AuthHeader string
	Timeout    time.Duration
}

// Client delivers completion payloads. Each Send is a single attempt.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *logrus.Logger
	metrics    *metrics.Metrics
}

func NewClient(config Config, logger *logrus.Logger, metrics *metrics.Metrics) *Client {
	if config.Timeout <= 0 {
		config.Timeout = constants.SecondsToDuration(constants.DefaultWebhookTimeoutSeconds)
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
		metrics:    metrics,
	}
}

func (c *Client) URL() string {
	return c.config.URL
}

// Send POSTs payload as JSON. Anything other than 200 is an error.
func (c *Client) Send(ctx context.Context, payload any) error {
	start := time.Now()
	defer func() {
		c.metrics.WebhookDuration.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		c.metrics.WebhookDeliveries.WithLabelValues("encode_error").Inc()
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		c.metrics.WebhookDeliveries.WithLabelValues("request_error").Inc()
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.AuthHeader != "" {
		req.Header.Set("Authorization", c.config.AuthHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.WebhookDeliveries.WithLabelValues("transport_error").Inc()
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		c.metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	c.metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
	c.logger.WithFields(logrus.Fields{
		"url":      c.config.URL,
		"bytes":    len(body),
		"duration": time.Since(start),
	}).Debug("Webhook delivered")
	return nil
}
