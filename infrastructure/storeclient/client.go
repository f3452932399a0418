// Package storeclient is the order service's HTTP client for the store
// service read API.
package storeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"food_order/domain/store"
	"food_order/pkg/apperr"
	"food_order/pkg/resilience"
)

// Client calls the store service. Every call runs through the resilience
// envelope so a slow or failing store service cannot take order intake
// down with it.
type Client struct {
	baseURL  string
	http     *http.Client
	envelope *resilience.Envelope
}

func New(baseURL string, envelope *resilience.Envelope) *Client {
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		envelope: envelope,
	}
}

// GetStoreWithMenus fetches one store with its menus.
func (c *Client) GetStoreWithMenus(ctx context.Context, storeID int64) (*store.Store, error) {
	var st *store.Store
	err := c.envelope.Do(ctx, func(ctx context.Context) error {
		var err error
		st, err = c.fetch(ctx, fmt.Sprintf("%s/stores/%d?menus=true", c.baseURL, storeID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (c *Client) fetch(ctx context.Context, url string) (*store.Store, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.ServiceUnavailable, "store service unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.New(apperr.EntityNotFound, "store not found")
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, apperr.Newf(apperr.ServiceUnavailable, "store service returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, apperr.Newf(apperr.Internal, "store service returned %d", resp.StatusCode)
	}

	var st store.Store
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode store response: %w", err)
	}
	return &st, nil
}
