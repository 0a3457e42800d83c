// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package checks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Dependencies probes external HTTP dependencies. Some unreachable is
// degraded, all unreachable is critical. It has no fix.
type Dependencies struct {
	urls    []string
	timeout time.Duration
	client  *http.Client
}

// NewDependencies creates a dependency check with a per-request timeout.
func NewDependencies(urls []string, timeout time.Duration) *Dependencies {
	return &Dependencies{
		urls:    urls,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// SetHTTPClient overrides the HTTP client (for testing).
func (d *Dependencies) SetHTTPClient(c *http.Client) { d.client = c }

func (d *Dependencies) Kind() Kind { return KindDependencies }

func (d *Dependencies) Run(ctx context.Context) Result {
	if len(d.urls) == 0 {
		return Healthy("no dependencies configured")
	}

	failures := make([]string, len(d.urls))
	var wg sync.WaitGroup
	for i, u := range d.urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.probe(ctx, u); err != nil {
				failures[i] = fmt.Sprintf("%s: %v", u, err)
			}
		}()
	}
	wg.Wait()

	var failed []string
	for _, f := range failures {
		if f != "" {
			failed = append(failed, f)
		}
	}

	switch {
	case len(failed) == 0:
		return Healthy(fmt.Sprintf("%d dependencies reachable", len(d.urls)))
	case len(failed) == len(d.urls):
		return Critical("all dependencies unreachable: %s", strings.Join(failed, "; "))
	default:
		return Degraded("%d of %d dependencies unreachable: %s", len(failed), len(d.urls), strings.Join(failed, "; "))
	}
}

func (d *Dependencies) probe(ctx context.Context, url string) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
