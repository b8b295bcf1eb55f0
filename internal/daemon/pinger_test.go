package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitemapd/internal/config"
	"git.home.luguber.info/inful/sitemapd/internal/metrics"
	"git.home.luguber.info/inful/sitemapd/internal/retry"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
)

func pingConfig(enabled, public bool, endpoints ...string) *config.Config {
	cfg := &config.Config{}
	cfg.Site.BaseURL = "https://example.com"
	cfg.Site.Public = &public
	cfg.Ping.Enabled = enabled
	cfg.Ping.Endpoints = endpoints
	cfg.Ping.Timeout = "2s"
	return cfg
}

func TestPingAllNotifiesEndpoints(t *testing.T) {
	var hits atomic.Int32
	var lastQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		lastQuery.Store(r.URL.RawQuery)
	}))
	defer srv.Close()

	p := NewPinger(pingConfig(true, true, srv.URL+"/ping?sitemap=%s"), metrics.NoopRecorder{})
	require.NoError(t, p.PingAll(context.Background()))

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "sitemap=https%3A%2F%2Fexample.com%2Fsitemap.xml", lastQuery.Load())
}

func TestPingAllDisabled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p := NewPinger(pingConfig(false, true, srv.URL+"/ping?sitemap=%s"), metrics.NoopRecorder{})
	require.NoError(t, p.PingAll(context.Background()))
	assert.Zero(t, hits.Load())
}

func TestPingAllNonPublicSite(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p := NewPinger(pingConfig(true, false, srv.URL+"/ping?sitemap=%s"), metrics.NoopRecorder{})
	err := p.PingAll(context.Background())
	require.Error(t, err)
	assert.True(t, smerr.HasCode(err, smerr.CodeSiteNotPublic))
	assert.Zero(t, hits.Load(), "non-public sites are never announced")
}

func TestPingAllToleratesEndpointFailures(t *testing.T) {
	var hits atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer healthy.Close()

	p := NewPinger(pingConfig(true, true,
		failing.URL+"/ping?sitemap=%s",
		healthy.URL+"/ping?sitemap=%s",
	), metrics.NoopRecorder{})

	require.NoError(t, p.PingAll(context.Background()), "endpoint failures are best effort")
	assert.Equal(t, int32(2), hits.Load(), "remaining endpoints are still pinged")
}

func TestPingerReconfigure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p := NewPinger(pingConfig(true, true, srv.URL+"/ping?sitemap=%s"), metrics.NoopRecorder{})
	p.Reconfigure(pingConfig(true, false, srv.URL+"/ping?sitemap=%s"))

	err := p.PingAll(context.Background())
	assert.True(t, smerr.HasCode(err, smerr.CodeSiteNotPublic))
	assert.Zero(t, hits.Load())
}

// flakyTransport fails the first N round trips, then delegates.
type flakyTransport struct {
	mu       sync.Mutex
	failures int
	attempts int
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestPingerRetriesTransportErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p := NewPinger(pingConfig(true, true, srv.URL+"/ping?sitemap=%s"), metrics.NoopRecorder{})
	transport := &flakyTransport{failures: 1}
	p.client.Transport = transport
	p.policy = retry.Policy{Mode: retry.BackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 2}

	require.NoError(t, p.PingAll(context.Background()))
	assert.Equal(t, 2, transport.attempts, "first attempt fails, retry succeeds")
	assert.Equal(t, int32(1), hits.Load())
}

func TestPingerGivesUpAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p := NewPinger(pingConfig(true, true, srv.URL+"/ping?sitemap=%s"), metrics.NoopRecorder{})
	transport := &flakyTransport{failures: 10}
	p.client.Transport = transport
	p.policy = retry.Policy{Mode: retry.BackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 2}

	require.NoError(t, p.PingAll(context.Background()), "exhausted retries stay best effort")
	assert.Equal(t, 3, transport.attempts, "initial attempt plus two retries")
	assert.Zero(t, hits.Load())
}
