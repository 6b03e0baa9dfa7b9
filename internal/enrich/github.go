package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"mailreach/internal/models"
)

// GitHub searches public commit identities for the address. A hit means the
// mailbox belonged to a real person recently enough to push code.
type GitHub struct {
	client  *Client
	baseURL string
}

func NewGitHub(client *Client) *GitHub {
	return &GitHub{client: client, baseURL: "https://api.github.com"}
}

func (g *GitHub) Name() string  { return "github" }
func (g *GitHub) Cost() float64 { return 0 }

type githubSearch struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		Login string `json:"login"`
	} `json:"items"`
}

func (g *GitHub) Search(ctx context.Context, email string, hint models.PersonHint) (*models.Candidate, error) {
	u := fmt.Sprintf("%s/search/users?q=%s", g.baseURL, url.QueryEscape(email+" in:email"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusTooManyRequests:
		// Unauthenticated search quota is tiny; treat as an outage, not a miss.
		return nil, fmt.Errorf("github: rate limited (%d)", resp.StatusCode)
	default:
		return nil, fmt.Errorf("github: unexpected status %d", resp.StatusCode)
	}

	var res githubSearch
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("github: decode: %w", err)
	}
	if res.TotalCount == 0 || len(res.Items) == 0 {
		return nil, nil
	}
	return &models.Candidate{Source: "github", Name: res.Items[0].Login, Confidence: 0.55}, nil
}
