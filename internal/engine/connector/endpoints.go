package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"
)

// region describes one candidate PocketOption WebSocket region as returned
// by the out-of-band region list endpoint.
type region struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Blocked bool   `json:"blocked"`
}

// EndpointDiscovery derives the ordered candidate endpoint list a Connector
// dials. An explicit override skips discovery entirely (config key
// `endpoint_override`, §6); otherwise it fetches a region list, drops
// blocked regions, and ranks the rest by measured latency.
type EndpointDiscovery struct {
	RegionListURL string
	Override      string
	HTTPClient    *http.Client
	ProbeTimeout  time.Duration
}

// DefaultProbeTimeout bounds a single latency probe.
const DefaultProbeTimeout = 3 * time.Second

// NewEndpointDiscovery builds an EndpointDiscovery with sane defaults.
func NewEndpointDiscovery(regionListURL, override string) *EndpointDiscovery {
	return &EndpointDiscovery{
		RegionListURL: regionListURL,
		Override:      override,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
		ProbeTimeout:  DefaultProbeTimeout,
	}
}

// Discover returns the ordered list of candidate WebSocket URLs. When an
// override is configured, discovery is skipped and the override is the
// sole candidate.
func (d *EndpointDiscovery) Discover(ctx context.Context) ([]string, error) {
	if d.Override != "" {
		if _, err := url.Parse(d.Override); err != nil {
			return nil, fmt.Errorf("endpoint discovery: invalid endpoint_override %q: %w", d.Override, err)
		}
		return []string{d.Override}, nil
	}

	regions, err := d.fetchRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("endpoint discovery: %w", err)
	}

	candidates := make([]region, 0, len(regions))
	for _, r := range regions {
		if !r.Blocked {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("endpoint discovery: no unblocked regions available")
	}

	ranked := d.rankByLatency(ctx, candidates)
	urls := make([]string, len(ranked))
	for i, r := range ranked {
		urls[i] = r.URL
	}
	return urls, nil
}

func (d *EndpointDiscovery) fetchRegions(ctx context.Context) ([]region, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.RegionListURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("region list request returned status %d", resp.StatusCode)
	}

	var regions []region
	if err := json.NewDecoder(resp.Body).Decode(&regions); err != nil {
		return nil, fmt.Errorf("decoding region list: %w", err)
	}
	return regions, nil
}

// rankByLatency probes each candidate with an HTTP HEAD request and
// sorts ascending by round-trip time; a candidate that fails to respond
// within ProbeTimeout is sorted last rather than dropped, since a slow
// probe doesn't necessarily mean the WebSocket upgrade itself will fail.
func (d *EndpointDiscovery) rankByLatency(ctx context.Context, candidates []region) []region {
	type timed struct {
		r       region
		latency time.Duration
	}
	results := make([]timed, len(candidates))
	for i, r := range candidates {
		results[i] = timed{r: r, latency: d.probe(ctx, r.URL)}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].latency < results[j].latency
	})
	ranked := make([]region, len(results))
	for i, t := range results {
		ranked[i] = t.r
	}
	return ranked
}

func (d *EndpointDiscovery) probe(ctx context.Context, wsURL string) time.Duration {
	probeCtx, cancel := context.WithTimeout(ctx, d.ProbeTimeout)
	defer cancel()

	httpURL := toHTTPProbeURL(wsURL)
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, httpURL, nil)
	if err != nil {
		return d.ProbeTimeout
	}

	start := time.Now()
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return d.ProbeTimeout
	}
	resp.Body.Close()
	return time.Since(start)
}

// toHTTPProbeURL rewrites a wss:// URL to https:// (or ws:// to http://) so
// a plain HEAD request can measure reachability without completing a full
// WebSocket upgrade.
func toHTTPProbeURL(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	return u.String()
}
