package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"mailreach/internal/models"
)

// HIBP checks the address against the Have I Been Pwned breach index. An
// address that shows up in breach corpora was a live account at some point,
// which is weak evidence on its own but nearly free to obtain. Needs an API
// key; without one the capability reports no candidate.
type HIBP struct {
	client  *Client
	key     string
	baseURL string
}

func NewHIBP(client *Client, apiKey string) *HIBP {
	return &HIBP{client: client, key: apiKey, baseURL: "https://haveibeenpwned.com"}
}

func (h *HIBP) Name() string  { return "hibp" }
func (h *HIBP) Cost() float64 { return 0.5 }

type hibpBreach struct {
	Name string `json:"Name"`
}

func (h *HIBP) Search(ctx context.Context, email string, hint models.PersonHint) (*models.Candidate, error) {
	if h.key == "" {
		return nil, nil
	}

	u := h.baseURL + "/api/v3/breachedaccount/" + url.PathEscape(email) + "?truncateResponse=true"
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("hibp-api-key", h.key)

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, err
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var breaches []hibpBreach
			err := json.NewDecoder(resp.Body).Decode(&breaches)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("hibp: decode: %w", err)
			}
			if len(breaches) == 0 {
				return nil, nil
			}
			return &models.Candidate{Source: "hibp", Confidence: 0.6}, nil

		case http.StatusNotFound:
			resp.Body.Close()
			return nil, nil

		case http.StatusTooManyRequests:
			resp.Body.Close()
			if attempt == 0 {
				select {
				case <-time.After(1600 * time.Millisecond):
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return nil, fmt.Errorf("hibp: rate limited")

		default:
			resp.Body.Close()
			return nil, fmt.Errorf("hibp: unexpected status %d", resp.StatusCode)
		}
	}
	return nil, nil
}
