package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/sitemapd/internal/config"
	"git.home.luguber.info/inful/sitemapd/internal/logfields"
	"git.home.luguber.info/inful/sitemapd/internal/metrics"
	"git.home.luguber.info/inful/sitemapd/internal/retry"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
)

// Pinger announces a refreshed sitemap index to search engines. Endpoints
// are format strings receiving the URL-escaped index URL.
type Pinger struct {
	client   *http.Client
	recorder metrics.Recorder
	logger   *slog.Logger
	policy   retry.Policy

	mu        sync.RWMutex
	enabled   bool
	public    bool
	endpoints []string
	indexURL  string
	timeout   time.Duration
}

// NewPinger creates a pinger from the current configuration.
func NewPinger(cfg *config.Config, recorder metrics.Recorder) *Pinger {
	p := &Pinger{
		client:   &http.Client{},
		recorder: recorder,
		logger:   slog.Default(),
		policy:   retry.DefaultPolicy(),
	}
	p.Reconfigure(cfg)
	return p
}

// Reconfigure applies the current ping and site settings.
func (p *Pinger) Reconfigure(cfg *config.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = cfg.Ping.Enabled
	p.public = cfg.Site.IsPublic()
	p.endpoints = cfg.Ping.Endpoints
	p.indexURL = strings.TrimRight(cfg.Site.BaseURL, "/") + "/sitemap.xml"
	p.timeout = cfg.Ping.PingTimeout()
}

// PingAll notifies every configured endpoint about the index. A non-public
// site refuses with site_not_public. Per-endpoint failures are logged and
// counted but never fail the call.
func (p *Pinger) PingAll(ctx context.Context) error {
	p.mu.RLock()
	enabled := p.enabled
	public := p.public
	endpoints := p.endpoints
	indexURL := p.indexURL
	timeout := p.timeout
	p.mu.RUnlock()

	if !enabled {
		return nil
	}
	if !public {
		return smerr.New(smerr.CodeSiteNotPublic, "site is not public, refusing to ping search engines")
	}

	for _, endpoint := range endpoints {
		p.ping(ctx, endpoint, indexURL, timeout)
	}
	return nil
}

func (p *Pinger) ping(ctx context.Context, endpoint, indexURL string, timeout time.Duration) {
	target := fmt.Sprintf(endpoint, url.QueryEscape(indexURL))
	label := endpointLabel(target)

	resp, err := p.attempt(ctx, target, timeout)
	// Transport failures retry with backoff; an HTTP response, whatever
	// its status, is final.
	for try := 1; err != nil && try <= p.policy.MaxRetries; try++ {
		select {
		case <-ctx.Done():
			p.recorder.IncPing(label, false)
			p.logger.Warn("search engine ping failed", logfields.Endpoint(label), logfields.Error(err))
			return
		case <-time.After(p.policy.Delay(try)):
		}
		resp, err = p.attempt(ctx, target, timeout)
	}
	if err != nil {
		p.recorder.IncPing(label, false)
		p.logger.Warn("search engine ping failed", logfields.Endpoint(label), logfields.Error(err))
		return
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	p.recorder.IncPing(label, ok)
	if ok {
		p.logger.Info("search engine pinged", logfields.Endpoint(label), logfields.Status(resp.StatusCode))
	} else {
		p.logger.Warn("search engine ping rejected", logfields.Endpoint(label), logfields.Status(resp.StatusCode))
	}
}

// attempt performs one GET against the target and drains the body.
func (p *Pinger) attempt(ctx context.Context, target string, timeout time.Duration) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp, nil
}

// endpointLabel reduces a ping URL to its host for use as a metric label.
func endpointLabel(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	return u.Host
}
