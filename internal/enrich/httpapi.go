package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mailreach/internal/models"
)

// HTTPAPI is a configured person-search endpoint, typically a paid data
// vendor. The operator supplies the URL, key and a relative cost so the
// waterfall can order vendors cheapest-first.
type HTTPAPI struct {
	client *Client
	name   string
	url    string
	key    string
	cost   float64
}

func NewHTTPAPI(client *Client, name, endpoint, key string, cost float64) *HTTPAPI {
	return &HTTPAPI{client: client, name: name, url: strings.TrimRight(endpoint, "/"), key: key, cost: cost}
}

func (h *HTTPAPI) Name() string  { return h.name }
func (h *HTTPAPI) Cost() float64 { return h.cost }

type personResponse struct {
	Found  bool `json:"found"`
	Person struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		FullName  string `json:"full_name"`
		Title     string `json:"title"`
	} `json:"person"`
	Confidence float64 `json:"confidence"`
}

func (h *HTTPAPI) Search(ctx context.Context, email string, hint models.PersonHint) (*models.Candidate, error) {
	u := h.url + "?email=" + url.QueryEscape(email)

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		if h.key != "" {
			req.Header.Set("X-API-Key", h.key)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			resp.Body.Close()
			select {
			case <-time.After(1600 * time.Millisecond):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			return nil, nil
		default:
			return nil, fmt.Errorf("%s: unexpected status %d", h.name, resp.StatusCode)
		}

		var res personResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", h.name, err)
		}
		if !res.Found {
			return nil, nil
		}
		name := strings.TrimSpace(res.Person.FullName)
		if name == "" {
			name = strings.TrimSpace(res.Person.FirstName + " " + res.Person.LastName)
		}
		conf := res.Confidence
		if conf == 0 {
			conf = 0.7
		}
		return &models.Candidate{Source: h.name, Name: name, Title: res.Person.Title, Confidence: conf}, nil
	}
}
