package deploy

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func okStatus(code int) bool { return code >= 200 && code < 400 }
func clientError(code int) bool { return code >= 400 && code < 500 }

// Ready reports whether the backend (/api/) and frontend (/) statuses mean
// the app is serving. A 4xx is tolerated on one side when the other side
// answered 2xx/3xx. Zero means no response.
func Ready(apiStatus, rootStatus int) bool {
	switch {
	case okStatus(apiStatus) && okStatus(rootStatus):
		return true
	case okStatus(apiStatus) && clientError(rootStatus):
		return true
	case clientError(apiStatus) && okStatus(rootStatus):
		return true
	}
	return false
}

func probe(ctx context.Context, client *http.Client, url string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	_ = resp.Body.Close()
	return resp.StatusCode
}

// waitReady polls both paths concurrently every PollInterval until Ready or
// PollTimeout elapses.
func (p *Pipeline) waitReady(ctx context.Context, baseURL string, o Options) bool {
	ctx, cancel := context.WithTimeout(ctx, o.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		var apiStatus, rootStatus int
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			apiStatus = probe(gctx, o.HTTPClient, baseURL+"/api/")
			return nil
		})
		g.Go(func() error {
			rootStatus = probe(gctx, o.HTTPClient, baseURL+"/")
			return nil
		})
		_ = g.Wait()

		if Ready(apiStatus, rootStatus) {
			return true
		}
		o.Logger.Debug("app not ready",
			zap.String("url", baseURL),
			zap.Int("attempt", attempt),
			zap.Int("api_status", apiStatus),
			zap.Int("root_status", rootStatus),
		)

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
