package bubbleclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// PutObject writes fields onto the record identified by table and id,
// creating it when absent. Repeating the call with the same fields is a
// no-op on the remote side.
func (c *Client) PutObject(ctx context.Context, table, id string, fields map[string]any, idempotencyKey string) error {
	path, err := objectPath(table, id)
	if err != nil {
		return err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return c.doRequest(ctx, http.MethodPut, path, idempotencyKey, fields, nil)
}

// DeleteObject removes a record. A record that is already gone counts as
// deleted.
func (c *Client) DeleteObject(ctx context.Context, table, id string, idempotencyKey string) error {
	path, err := objectPath(table, id)
	if err != nil {
		return err
	}
	err = c.doRequest(ctx, http.MethodDelete, path, idempotencyKey, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func objectPath(table, id string) (string, error) {
	if table == "" || id == "" {
		return "", &APIError{Status: http.StatusBadRequest, Code: "invalid_target", Message: "table and id are required"}
	}
	return fmt.Sprintf("/obj/%s/%s", url.PathEscape(table), url.PathEscape(id)), nil
}
