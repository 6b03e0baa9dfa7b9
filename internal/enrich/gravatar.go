package enrich

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"mailreach/internal/models"
)

// Gravatar looks the address up in the public Gravatar profile directory.
// A profile proves someone registered this exact address somewhere, and often
// carries a display name. Free, so it runs first.
type Gravatar struct {
	client  *Client
	baseURL string
}

func NewGravatar(client *Client) *Gravatar {
	return &Gravatar{client: client, baseURL: "https://www.gravatar.com"}
}

func (g *Gravatar) Name() string  { return "gravatar" }
func (g *Gravatar) Cost() float64 { return 0 }

type gravatarProfile struct {
	Entry []struct {
		DisplayName string `json:"displayName"`
		Name        struct {
			GivenName  string `json:"givenName"`
			FamilyName string `json:"familyName"`
		} `json:"name"`
	} `json:"entry"`
}

func (g *Gravatar) Search(ctx context.Context, email string, hint models.PersonHint) (*models.Candidate, error) {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	u := fmt.Sprintf("%s/%x.json", g.baseURL, sum)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("gravatar: unexpected status %d", resp.StatusCode)
	}

	var profile gravatarProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("gravatar: decode: %w", err)
	}
	if len(profile.Entry) == 0 {
		return nil, nil
	}
	e := profile.Entry[0]
	name := strings.TrimSpace(e.Name.GivenName + " " + e.Name.FamilyName)
	if name == "" {
		name = e.DisplayName
	}
	return &models.Candidate{Source: "gravatar", Name: name, Confidence: 0.6}, nil
}
