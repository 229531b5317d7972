package webhook

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kacperjurak/linaccore/pkg/config"
	"github.com/kacperjurak/linaccore/pkg/models"
)

// Client posts study summaries with a pooled HTTP connection
type Client struct {
	url        string
	httpClient *http.Client
	config     *config.Config
	bufferPool sync.Pool // Pool for JSON marshaling buffers
}

// NewClient creates a new webhook client with optimized connection pooling
func NewClient(url string, cfg *config.Config) *Client {
	// Create optimized transport with connection pooling
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},

		ResponseHeaderTimeout: 30 * time.Second,
	}

	client := &Client{
		url:    url,
		config: cfg,
		httpClient: &http.Client{
			Timeout:   45 * time.Second, // Total request timeout
			Transport: transport,
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 4096))
			},
		},
	}

	return client
}

// Send posts the summary of a study
func (c *Client) Send(webhook models.WebhookItem) error {
	return c.SendContext(context.Background(), webhook)
}

// SendContext posts the summary of a study, giving up when ctx is done.
func (c *Client) SendContext(ctx context.Context, webhook models.WebhookItem) error {
	result := webhook.Result
	result.Faults = append([]models.FaultResult(nil), result.Faults...)
	for i := range result.Faults {
		if v := c.sanitizeFloat(result.Faults[i].Norm); v != result.Faults[i].Norm {
			log.Printf("Warning: norm of fault %d sanitized from %v to %v", result.Faults[i].ID, result.Faults[i].Norm, v)
			result.Faults[i].Norm = v
		}
	}

	payload := models.WebhookResponse{
		ID:      webhook.RequestID,
		BatchID: webhook.BatchID,
		Time:    time.Now().Format(time.RFC3339Nano),
		Success: result.Success,
		Result:  result,
	}

	// Get buffer from pool and marshal to JSON
	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	encoder := json.NewEncoder(buf)
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("failed to marshal webhook data: %w", err)
	}

	if !c.config.Quiet {
		log.Printf("DEBUG: Webhook payload - study: %s, faults: %d, bytes: %d",
			result.ID, len(result.Faults), buf.Len())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if !c.config.Quiet {
		log.Printf("Webhook sent - ID: %s, Success: %t, Status: %d",
			webhook.RequestID, result.Success, resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return nil
}

// sanitizeFloat cleans float64 values for JSON compatibility
func (c *Client) sanitizeFloat(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0.0
	}
	return value
}
