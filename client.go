package utskick

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// NewClient returns a client for the utskick HTTP API. The credential is sent
// as a bearer token; which credential is expected depends on the endpoint (api
// key, admin token or trigger secret).
func NewClient(host string, credential string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{
		host:       host,
		credential: credential,
	}
}

type Client struct {
	host       string
	credential string
}

// Enqueue queues one message for delivery.
func (c *Client) Enqueue(ctx context.Context, to, subject, body string) (QueuedMessage, error) {
	var msg QueuedMessage
	err := c.do(ctx, "/api/queue", map[string]string{"to": to, "subject": subject, "body": body}, &msg)
	return msg, err
}

// SendCampaign fans a bulk announcement out to the resolved recipient set and
// returns the number of recipients enqueued.
func (c *Client) SendCampaign(ctx context.Context, campaign Campaign) (int, error) {
	var resp struct {
		RecipientCount int `json:"recipientCount"`
	}
	err := c.do(ctx, "/api/campaigns", campaign, &resp)
	return resp.RecipientCount, err
}

// Trigger fires one batch-processing round and returns the number of messages
// examined.
func (c *Client) Trigger(ctx context.Context) (int, error) {
	var resp struct {
		ProcessedCount int `json:"processedCount"`
	}
	err := c.do(ctx, "/api/process", nil, &resp)
	return resp.ProcessedCount, err
}

// Stats returns the aggregate per-status message counts.
func (c *Client) Stats(ctx context.Context) ([]StatusCount, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/stats", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Stats []StatusCount `json:"stats"`
	}
	err = c.send(req, &resp)
	return resp.Stats, err
}

func (c *Client) do(ctx context.Context, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, body)
	if err != nil {
		return err
	}
	req.Header.Add("content-type", "application/json")
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	if c.credential != "" {
		req.Header.Add("Authorization", "Bearer "+c.credential)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("got status %d, %s", resp.StatusCode, strings.TrimSpace(string(respBytes)))
	}
	return json.Unmarshal(respBytes, out)
}
