package bubbleclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 4 << 10

func (c *Client) doRequest(ctx context.Context, method, path, idempotencyKey string, body any, out any) error {
	if c == nil || strings.TrimSpace(c.cfg.BaseURL) == "" {
		return fmt.Errorf("bubble client not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	return c.breaker.Execute(func() error {
		return c.send(ctx, method, path, idempotencyKey, body, out)
	})
}

func (c *Client) send(ctx context.Context, method, path, idempotencyKey string, body any, out any) error {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &APIError{Status: http.StatusBadRequest, Code: "encode_failed", Message: err.Error()}
		}
		reqBody = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}

	return nil
}

func decodeAPIError(resp *http.Response) error {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("%s (failed to read body: %v)", resp.Status, err)}
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Body struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"body"`
	}
	if json.Unmarshal(bodyBytes, &envelope) == nil && envelope.Body.Message != "" {
		apiErr.Code = envelope.Body.Status
		apiErr.Message = envelope.Body.Message
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(bodyBytes))
	if apiErr.Message == "" {
		apiErr.Message = resp.Status
	}
	return apiErr
}
