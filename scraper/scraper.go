package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"

	"github.com/aluiziolira/go-harvest-books/config"
	"github.com/aluiziolira/go-harvest-books/metrics"
	"github.com/aluiziolira/go-harvest-books/models"
)

// Fetcher issues one GET per result page through a synchronous colly collector.
// It never retries; a failed fetch is returned as *FetchError.
type Fetcher struct {
	cfg       config.SourceConfig
	endpoint  *url.URL
	collector *colly.Collector
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewFetcher builds a fetcher for the configured search endpoint.
func NewFetcher(cfg config.SourceConfig, m *metrics.Metrics, log zerolog.Logger) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	endpoint := parsed.JoinPath(cfg.SearchPath)

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put("status", r.StatusCode)
		r.Ctx.Put("body", r.Body)
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil && r.Ctx != nil {
			r.Ctx.Put("status", r.StatusCode)
		}
	})

	return &Fetcher{
		cfg:       cfg,
		endpoint:  endpoint,
		collector: collector,
		metrics:   m,
		log:       log,
	}, nil
}

// SetTransport swaps the HTTP transport used by the collector.
func (f *Fetcher) SetTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// PageURL returns the listing URL for query and page.
func (f *Fetcher) PageURL(query string, page int) string {
	u := *f.endpoint
	params := url.Values{}
	params.Set("k", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("ref", "sr_pg_"+strconv.Itoa(page))
	u.RawQuery = params.Encode()
	return u.String()
}

// FetchPage downloads one result page. Transport failures, timeouts and
// non-2xx statuses are reported as *FetchError.
func (f *Fetcher) FetchPage(ctx context.Context, query string, page int) (*models.Page, error) {
	target := f.PageURL(query, page)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hdr := http.Header{}
	for k, v := range f.cfg.Headers {
		hdr.Set(k, v)
	}
	hdr.Set("User-Agent", f.cfg.UserAgent)

	cctx := colly.NewContext()
	start := time.Now()
	err := f.collector.Request(http.MethodGet, target, nil, cctx, hdr)
	f.metrics.ObserveDuration(time.Since(start))

	status, _ := cctx.GetAny("status").(int)
	if err != nil {
		fe := &FetchError{
			Kind:       classifyError(err, status),
			Page:       page,
			URL:        target,
			StatusCode: status,
			Err:        err,
		}
		f.metrics.IncRequest("error")
		f.metrics.IncError(string(fe.Kind))
		f.log.Error().
			Err(err).
			Int("page", page).
			Int("status", status).
			Str("error_type", string(fe.Kind)).
			Msg("page fetch failed")
		return nil, fe
	}

	body, _ := cctx.GetAny("body").([]byte)
	f.metrics.IncRequest("ok")
	f.log.Debug().
		Int("page", page).
		Int("status", status).
		Int("bytes", len(body)).
		Dur("elapsed", time.Since(start)).
		Msg("page fetched")

	return &models.Page{
		Number:     page,
		URL:        target,
		StatusCode: status,
		Body:       body,
	}, nil
}
