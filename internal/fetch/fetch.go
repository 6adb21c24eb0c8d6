// SPDX-License-Identifier: AGPL-3.0-or-later
/*
 * Copyright (C) 2025 Damian Peckett <damian@pecke.tt>.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package fetch issues streaming HTTP GET requests and feeds package
// downloads through the content-addressed cache, hashing on the fly.
// Retries are deliberately not implemented here; the caller decides.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/dpeckett/repro-env/internal/constants"
	"github.com/dpeckett/repro-env/internal/errdefs"
	"github.com/dpeckett/repro-env/internal/pkgcache"
)

// Fetcher downloads files over HTTPS into the package cache.
type Fetcher struct {
	client *http.Client
	cache  *pkgcache.Cache
}

// NewFetcher creates a fetcher backed by the given cache. The transport
// follows redirects, uses the system trust store, and honors the proxy
// environment (HTTPS_PROXY, ALL_PROXY, including socks5:// URLs).
func NewFetcher(cache *pkgcache.Cache) *Fetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: constants.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: constants.ConnectTimeout,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   constants.RequestTimeout,
		},
		cache: cache,
	}
}

// Cache returns the content-addressed cache the fetcher populates.
func (f *Fetcher) Cache() *pkgcache.Cache {
	return f.cache
}

// Get issues a GET request and returns the response; the caller closes its
// body. Status codes outside the 2xx range are surfaced as an
// HTTPStatusError.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse URL: %w", errdefs.ErrParse, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, &errdefs.HTTPStatusError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	return resp, nil
}

// GetOrFetch returns the path of a cache entry whose contents hash to
// expected, downloading and verifying it first if absent.
func (f *Fetcher) GetOrFetch(ctx context.Context, rawURL, expected string) (string, error) {
	if f.cache.Contains(expected) {
		slog.Debug("Cache hit", slog.String("sha256", expected))

		return f.cache.Path(expected), nil
	}

	slog.Debug("Downloading", slog.String("url", rawURL))

	resp, err := f.Get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	path, err := f.cache.Put(resp.Body, expected)
	if err != nil {
		return "", fmt.Errorf("failed to store %s: %w", rawURL, err)
	}

	return path, nil
}

// Metadata issues a GET request through the process-wide HTTP client, so
// repository metadata benefits from the disk-backed response cache wired at
// startup. The body is read completely so the cache can be populated.
func Metadata(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errdefs.HTTPStatusError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrNetwork, err)
	}

	return body, nil
}

// FetchComputing downloads a file into the cache without an expected digest
// and returns the entry path together with the observed SHA-256.
func (f *Fetcher) FetchComputing(ctx context.Context, rawURL string) (string, string, error) {
	slog.Debug("Downloading", slog.String("url", rawURL))

	resp, err := f.Get(ctx, rawURL)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	path, sum, err := f.cache.PutComputing(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to store %s: %w", rawURL, err)
	}

	return path, sum, nil
}
