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

// Package alpine resolves packages against Alpine Linux APKINDEX files and
// stages them with apk. The index only records SHA-1 checksums, so each
// package is downloaded at resolve time and pinned by its observed SHA-256.
package alpine

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dpeckett/repro-env/internal/archive"
	"github.com/dpeckett/repro-env/internal/constants"
	"github.com/dpeckett/repro-env/internal/container"
	"github.com/dpeckett/repro-env/internal/database"
	"github.com/dpeckett/repro-env/internal/distro"
	"github.com/dpeckett/repro-env/internal/errdefs"
	"github.com/dpeckett/repro-env/internal/fetch"
	"github.com/dpeckett/repro-env/internal/pkgcache"
	"github.com/dpeckett/repro-env/internal/resolve"
	"github.com/dpeckett/repro-env/internal/types"
)

// Plugin resolves and stages Alpine Linux packages.
type Plugin struct{}

func init() {
	distro.Register(New())
}

// New creates the plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) System() string {
	return types.SystemAlpine
}

// Resolve reads the image's configured repositories, computes the
// dependency closure over their indexes, and pins every member by the
// SHA-256 of its downloaded content.
func (p *Plugin) Resolve(ctx context.Context, req *distro.ResolveRequest) ([]types.LockedPackage, error) {
	repositories, err := req.Engine.ReadImageFile(ctx, req.Image, "/etc/apk/repositories")
	if err != nil {
		return nil, fmt.Errorf("failed to read apk repositories from image: %w", err)
	}

	repos := ParseRepositories(bytes.NewReader(repositories))
	if len(repos) == 0 {
		return nil, fmt.Errorf("%w: image has no apk repositories", errdefs.ErrResolve)
	}

	arch := alpineArch(req.Architecture)

	packageDB := database.NewPackageDB()
	for _, repo := range repos {
		baseURL := strings.TrimSuffix(repo, "/") + "/" + arch

		slog.Debug("Fetching APKINDEX", slog.String("repo", baseURL))

		indexData, err := fetch.Metadata(ctx, baseURL+"/APKINDEX.tar.gz")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch APKINDEX: %w", err)
		}

		packageList, err := ParseIndex(bytes.NewReader(indexData), baseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse APKINDEX: %w", err)
		}

		packageDB.AddAll(packageList)
	}

	selected, err := resolve.Resolve(packageDB, req.Dependencies)
	if err != nil {
		return nil, err
	}

	locked := make([]types.LockedPackage, len(selected))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.DownloadConcurrency)

	var mu sync.Mutex

	for i, pkg := range selected {
		i, pkg := i, pkg

		g.Go(func() error {
			// The index only carries a SHA-1, so the lockfile hash is
			// computed over the fetched content.
			_, sum, err := req.Fetcher.FetchComputing(ctx, pkg.URL)
			if err != nil {
				return fmt.Errorf("failed to download %s: %w", pkg.Name, err)
			}

			mu.Lock()
			locked[i] = types.LockedPackage{
				Name:    pkg.Name,
				Version: pkg.Version,
				System:  types.SystemAlpine,
				URL:     pkg.URL,
				SHA256:  sum,
			}
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return locked, nil
}

// Stage installs the staged package files with apk. The files were already
// verified against the lockfile hashes, so apk's own key check is skipped.
func (p *Plugin) Stage(ctx context.Context, session *container.Session, packages []types.LockedPackage, cache *pkgcache.Cache) error {
	return distro.StageFiles(ctx, session, packages, cache, func(paths []string) []string {
		return append([]string{"apk", "add", "--allow-untrusted"}, paths...)
	})
}

// ParseRepositories extracts the active repository URLs from an
// /etc/apk/repositories file. Tagged repositories are not installed by
// default and are skipped.
func ParseRepositories(r io.Reader) []string {
	var repos []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "@") {
			continue
		}

		repos = append(repos, line)
	}

	return repos
}

// ParseIndex parses an APKINDEX.tar.gz into packages whose URLs live under
// baseURL.
func ParseIndex(r io.Reader, baseURL string) ([]database.Package, error) {
	dr, err := archive.NewReader(r, "APKINDEX.tar.gz")
	if err != nil {
		return nil, err
	}
	defer dr.Close()

	var indexContent []byte
	err = archive.WalkTar(dr, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Name != "APKINDEX" {
			return nil
		}

		indexContent, err = io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("%w: failed to read APKINDEX: %w", errdefs.ErrArchive, err)
		}

		return io.EOF
	})
	if err != nil {
		return nil, err
	}

	if indexContent == nil {
		return nil, fmt.Errorf("%w: archive contains no APKINDEX", errdefs.ErrParse)
	}

	var packageList []database.Package
	for _, stanza := range strings.Split(string(indexContent), "\n\n") {
		if strings.TrimSpace(stanza) == "" {
			continue
		}

		pkg, err := parseStanza(stanza, baseURL)
		if err != nil {
			return nil, err
		}

		packageList = append(packageList, pkg)
	}

	return packageList, nil
}

// parseStanza parses one single-letter-keyed APKINDEX stanza.
func parseStanza(stanza, baseURL string) (database.Package, error) {
	var pkg database.Package

	for _, line := range strings.Split(stanza, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 2 || line[1] != ':' {
			continue
		}

		value := line[2:]
		switch line[0] {
		case 'P':
			pkg.Name = value
		case 'V':
			pkg.Version = value
		case 'D':
			for _, dep := range strings.Fields(value) {
				// Conflict markers are not installation candidates.
				if strings.HasPrefix(dep, "!") {
					continue
				}

				pkg.Depends = append(pkg.Depends, []string{stripVersionConstraint(dep)})
			}
		case 'p':
			for _, provided := range strings.Fields(value) {
				pkg.Provides = append(pkg.Provides, stripVersionConstraint(provided))
			}
		}
	}

	if pkg.Name == "" || pkg.Version == "" {
		return database.Package{}, fmt.Errorf("%w: APKINDEX stanza is missing a name or version", errdefs.ErrParse)
	}

	pkg.Filename = pkg.Name + "-" + pkg.Version + ".apk"
	pkg.URL = baseURL + "/" + pkg.Filename

	return pkg, nil
}

// stripVersionConstraint reduces a dependency expression like zlib>=1.3 or
// so:libssl.so.3=3 to its bare name.
func stripVersionConstraint(dep string) string {
	return strings.FieldsFunc(dep, func(r rune) bool {
		return r == '<' || r == '>' || r == '=' || r == '~'
	})[0]
}

func alpineArch(goArch string) string {
	switch goArch {
	case "", "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return goArch
	}
}
