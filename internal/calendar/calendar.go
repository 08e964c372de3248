// Package calendar implements the two calendar backends and the aggregator
// that composes them into one ranked event list.
package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dashb/dashb/internal/dasherr"
	"github.com/dashb/dashb/internal/deviceflow"
)

// Window is the per-provider event query policy: how far ahead to ask for
// events and how many to accept. Days == 0 means no upper bound.
type Window struct {
	Days       int
	MaxResults int
}

// authedGET performs a bearer-authenticated GET with the 401 policy shared
// by both providers: on a 401, refresh the credential once and retry the
// same request exactly once more. A failed refresh, or a second 401, fails
// with an authentication-required error and never loops.
func authedGET(ctx context.Context, httpClient *http.Client, flow *deviceflow.Client, url string) ([]byte, error) {
	retried := false
	for {
		token, err := flow.AccessToken(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("error building request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, dasherr.E(err, dasherr.KindNetwork)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, dasherr.E(err, dasherr.KindNetwork)
		}

		if resp.StatusCode == http.StatusUnauthorized {
			if retried {
				return nil, dasherr.E("credential rejected after refresh", dasherr.KindAuthRequired)
			}

			refreshed, err := flow.RefreshToken(ctx)
			if err != nil || !refreshed {
				return nil, dasherr.E("credential expired and refresh failed", dasherr.KindAuthRequired)
			}
			retried = true
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, dasherr.E(fmt.Errorf("unexpected status code: %d", resp.StatusCode), dasherr.KindProtocol)
		}

		return body, nil
	}
}

// startOfDay truncates t to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
