package status

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/oxplot/pdmux/powermux"
)

// ErrNotRunning is returned by Fetch when nothing listens at the address.
var ErrNotRunning = errors.New("status: pdmux is not running")

// Fetch reads the status served at baseURL.
func Fetch(ctx context.Context, c *http.Client, baseURL string) (*powermux.Status, error) {
	if c == nil {
		c = http.DefaultClient
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/status", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrNotRunning, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("status: unexpected response %s", resp.Status)
	}
	var s powermux.Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "decode status")
	}
	return &s, nil
}
