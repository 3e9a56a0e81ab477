// Package satnogs retrieves element sets from the SatNOGS DB.
package satnogs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/w1xm/k3ng_interface/k3ng"
)

const DefaultURL = "https://db.satnogs.org/api/tle/"

// Client fetches TLEs by NORAD catalog number.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client for baseURL, or DefaultURL if empty.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type entry struct {
	TLE0 string `json:"tle0"`
	TLE1 string `json:"tle1"`
	TLE2 string `json:"tle2"`
}

// Satellite fetches the element set for id and returns it with a
// controller-safe title.
func (c *Client) Satellite(ctx context.Context, id int) (k3ng.Satellite, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return k3ng.Satellite{}, fmt.Errorf("parsing %q: %w", c.baseURL, err)
	}
	q := u.Query()
	q.Set("format", "json")
	q.Set("norad_cat_id", strconv.Itoa(id))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return k3ng.Satellite{}, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return k3ng.Satellite{}, fmt.Errorf("fetching TLE for %d: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return k3ng.Satellite{}, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, c.baseURL)
	}

	var entries []entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return k3ng.Satellite{}, fmt.Errorf("decoding TLE response: %w", err)
	}
	if len(entries) == 0 {
		return k3ng.Satellite{}, fmt.Errorf("no TLE for NORAD ID %d", id)
	}
	e := entries[0]
	sat := k3ng.NewSatellite(id, k3ng.NewTLE(e.TLE0, e.TLE1, e.TLE2))
	log.Info().Int("norad_id", id).Str("title", sat.TLE.Title).Msg("retrieved TLE")
	return sat, nil
}
