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

package fetch_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dpeckett/repro-env/internal/errdefs"
	"github.com/dpeckett/repro-env/internal/fetch"
	"github.com/dpeckett/repro-env/internal/pkgcache"
	"github.com/dpeckett/repro-env/internal/testutil"
)

func TestFetcher(t *testing.T) {
	testutil.SetupGlobals(t)

	content := []byte("package bytes")
	sumBytes := sha256.Sum256(content)
	sum := hex.EncodeToString(sumBytes[:])

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pkg":
			hits.Add(1)
			_, _ = w.Write(content)
		case "/missing":
			http.NotFound(w, r)
		default:
			http.Error(w, "unexpected", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(server.Close)

	ctx := context.Background()

	t.Run("GetOrFetch", func(t *testing.T) {
		cache, err := pkgcache.New(t.TempDir())
		require.NoError(t, err)

		fetcher := fetch.NewFetcher(cache)

		path, err := fetcher.GetOrFetch(ctx, server.URL+"/pkg", sum)
		require.NoError(t, err)

		stored, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, content, stored)

		// A second call must be served from the cache.
		before := hits.Load()
		again, err := fetcher.GetOrFetch(ctx, server.URL+"/pkg", sum)
		require.NoError(t, err)
		require.Equal(t, path, again)
		require.Equal(t, before, hits.Load())
	})

	t.Run("HashMismatch", func(t *testing.T) {
		cache, err := pkgcache.New(t.TempDir())
		require.NoError(t, err)

		fetcher := fetch.NewFetcher(cache)

		_, err = fetcher.GetOrFetch(ctx, server.URL+"/pkg", strings.Repeat("0", 64))
		require.ErrorIs(t, err, errdefs.ErrHashMismatch)
	})

	t.Run("NotFound", func(t *testing.T) {
		cache, err := pkgcache.New(t.TempDir())
		require.NoError(t, err)

		fetcher := fetch.NewFetcher(cache)

		_, err = fetcher.GetOrFetch(ctx, server.URL+"/missing", sum)
		require.ErrorIs(t, err, errdefs.ErrNetwork)

		var statusErr *errdefs.HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	})

	t.Run("FetchComputing", func(t *testing.T) {
		cache, err := pkgcache.New(t.TempDir())
		require.NoError(t, err)

		fetcher := fetch.NewFetcher(cache)

		path, observed, err := fetcher.FetchComputing(ctx, server.URL+"/pkg")
		require.NoError(t, err)
		require.Equal(t, sum, observed)
		require.Equal(t, cache.Path(sum), path)
	})
}
