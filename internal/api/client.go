// Package api is the HTTP client for the remote records service.
//
// The client is deliberately thin: it translates entities to requests,
// attaches auth and idempotency headers, and classifies failures. Retry
// policy lives in the sync engine; the client's only self-protection is
// a circuit breaker that fails fast while the backend is melting down.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"github.com/vetlabs/pawsync/internal/model"
)

// NetworkError describes a failed request to the remote service. The
// engine keys its retry decision off Retriable().
type NetworkError struct {
	// Op is the logical operation, e.g. "createPet".
	Op string
	// URL is the request URL.
	URL string
	// StatusCode is the HTTP status, or 0 if the request never got a
	// response.
	StatusCode int
	// Err is the underlying transport error, if any.
	Err error
}

// Error returns a human-readable description of the failure.
func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: server returned %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *NetworkError) Unwrap() error { return e.Err }

// Retriable reports whether retrying the request may succeed.
// Transport failures and 5xx/429 responses are retriable; other 4xx
// responses mean the payload itself is rejected.
func (e *NetworkError) Retriable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client talks to the remote pet records API.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a client for the given base URL. token is called
// per request to supply the bearer token; it may return "" for
// unauthenticated setups.
func NewClient(baseURL string, token func() string) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		token:   token,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "records-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 4xx is the server answering, not the server failing; only
		// transport errors and 5xx count toward tripping.
		IsSuccessful: func(err error) bool {
			var netErr *NetworkError
			if errors.As(err, &netErr) {
				return !netErr.Retriable()
			}
			return err == nil
		},
	})
	return c
}

// SetHTTPClient replaces the underlying HTTP client, mainly for tests.
func (c *Client) SetHTTPClient(h *http.Client) { c.http = h }

// CreatePet creates a pet on the server and returns the canonical
// record.
func (c *Client) CreatePet(ctx context.Context, pet *model.Pet, idempotencyKey string) (*model.Pet, error) {
	var out model.Pet
	if err := c.do(ctx, "createPet", http.MethodPost, "/v1/pets", pet, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePet updates a pet on the server and returns the canonical
// record.
func (c *Client) UpdatePet(ctx context.Context, pet *model.Pet, idempotencyKey string) (*model.Pet, error) {
	var out model.Pet
	if err := c.do(ctx, "updatePet", http.MethodPut, "/v1/pets/"+pet.ID, pet, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePet deletes a pet on the server.
func (c *Client) DeletePet(ctx context.Context, id, idempotencyKey string) error {
	return c.do(ctx, "deletePet", http.MethodDelete, "/v1/pets/"+id, nil, idempotencyKey, nil)
}

// CreateMedication creates a medication record on the server.
func (c *Client) CreateMedication(ctx context.Context, med *model.Medication, idempotencyKey string) (*model.Medication, error) {
	var out model.Medication
	if err := c.do(ctx, "createMedication", http.MethodPost, "/v1/medications", med, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMedication updates a medication record on the server.
func (c *Client) UpdateMedication(ctx context.Context, med *model.Medication, idempotencyKey string) (*model.Medication, error) {
	var out model.Medication
	if err := c.do(ctx, "updateMedication", http.MethodPut, "/v1/medications/"+med.ID, med, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMedication deletes a medication record on the server.
func (c *Client) DeleteMedication(ctx context.Context, id, idempotencyKey string) error {
	return c.do(ctx, "deleteMedication", http.MethodDelete, "/v1/medications/"+id, nil, idempotencyKey, nil)
}

// CreateFavorite creates a favorite on the server.
func (c *Client) CreateFavorite(ctx context.Context, fav *model.Favorite, idempotencyKey string) (*model.Favorite, error) {
	var out model.Favorite
	if err := c.do(ctx, "createFavorite", http.MethodPost, "/v1/favorites", fav, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateFavorite updates a favorite on the server.
func (c *Client) UpdateFavorite(ctx context.Context, fav *model.Favorite, idempotencyKey string) (*model.Favorite, error) {
	var out model.Favorite
	if err := c.do(ctx, "updateFavorite", http.MethodPut, "/v1/favorites/"+fav.ID, fav, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteFavorite deletes a favorite on the server.
func (c *Client) DeleteFavorite(ctx context.Context, id, idempotencyKey string) error {
	return c.do(ctx, "deleteFavorite", http.MethodDelete, "/v1/favorites/"+id, nil, idempotencyKey, nil)
}

// SearchDrugs queries the drug safety search endpoint. Results are
// cached locally by the caller; the client itself never caches.
func (c *Client) SearchDrugs(ctx context.Context, query string) (json.RawMessage, error) {
	var out json.RawMessage
	path := "/v1/drugs/search?q=" + url.QueryEscape(query)
	if err := c.do(ctx, "searchDrugs", http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, idempotencyKey string, out any) error {
	reqURL := c.baseURL + path

	_, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s request: %w", op, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &NetworkError{Op: op, URL: reqURL, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, resp.Body)
			return nil, &NetworkError{Op: op, URL: reqURL, StatusCode: resp.StatusCode}
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
			}
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// The breaker rejecting is equivalent to a transport failure:
		// retriable later.
		return &NetworkError{Op: op, URL: reqURL, Err: err}
	}
	return err
}
