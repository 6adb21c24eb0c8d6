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

// Package archlinux resolves packages against Arch Linux repository
// databases and stages them with pacman. Locked URLs point at the Arch
// archive, which retains every published package version.
package archlinux

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"path"
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
	"github.com/dpeckett/repro-env/internal/pgp"
	"github.com/dpeckett/repro-env/internal/pkgcache"
	"github.com/dpeckett/repro-env/internal/resolve"
	"github.com/dpeckett/repro-env/internal/types"
)

// Plugin resolves and stages Arch Linux packages.
type Plugin struct {
	// MirrorURL serves repository databases during resolution.
	MirrorURL string
	// ArchiveURL is the stable archive locked package URLs point at.
	ArchiveURL string
}

func init() {
	distro.Register(New())
}

// New creates the plugin with the default mirror and archive.
func New() *Plugin {
	return &Plugin{
		MirrorURL:  constants.ArchMirrorURL,
		ArchiveURL: constants.ArchArchiveURL,
	}
}

func (p *Plugin) System() string {
	return types.SystemArchlinux
}

// Resolve computes the dependency closure of the requested packages against
// the repositories the base image is configured with, and pins every member
// to an archive URL, its index SHA-256, and a packager signature verified
// against the bundled certificate set. The signature comes from the index
// or, failing that, the .sig file beside the package; a package with
// neither fails resolution.
func (p *Plugin) Resolve(ctx context.Context, req *distro.ResolveRequest) ([]types.LockedPackage, error) {
	pacmanConf, err := req.Engine.ReadImageFile(ctx, req.Image, "/etc/pacman.conf")
	if err != nil {
		return nil, fmt.Errorf("failed to read pacman.conf from image: %w", err)
	}

	repos := ParsePacmanConf(bytes.NewReader(pacmanConf))
	if len(repos) == 0 {
		return nil, fmt.Errorf("%w: image has no pacman repositories", errdefs.ErrResolve)
	}

	arch := nativeArch(req.Architecture)

	packageDB := database.NewPackageDB()
	for _, repo := range repos {
		indexURL := fmt.Sprintf("%s/%s/os/%s/%s.db.tar.gz", p.MirrorURL, repo, arch, repo)

		slog.Debug("Fetching repository database", slog.String("url", indexURL))

		indexData, err := fetch.Metadata(ctx, indexURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s database: %w", repo, err)
		}

		packageList, err := ParseIndex(bytes.NewReader(indexData))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s database: %w", repo, err)
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
			pkgURL := p.PackageURL(pkg)

			pkgPath, err := req.Fetcher.GetOrFetch(ctx, pkgURL, pkg.SHA256)
			if err != nil {
				return fmt.Errorf("failed to download %s: %w", pkg.Name, err)
			}

			signature := pkg.Signature
			if signature == "" {
				sigData, err := fetch.Metadata(ctx, pkgURL+".sig")
				if err != nil {
					return fmt.Errorf("failed to download signature for %s: %w", pkg.Name, err)
				}

				signature = base64.StdEncoding.EncodeToString(sigData)
			}

			sigBytes, err := base64.StdEncoding.DecodeString(signature)
			if err != nil {
				return fmt.Errorf("%w: malformed signature for %s: %w", errdefs.ErrSignature, pkg.Name, err)
			}

			if err := pgp.VerifyDetachedFile(req.Keyring, pkgPath, sigBytes); err != nil {
				return fmt.Errorf("failed to verify %s: %w", pkg.Name, err)
			}

			mu.Lock()
			locked[i] = types.LockedPackage{
				Name:      pkg.Name,
				Version:   pkg.Version,
				System:    types.SystemArchlinux,
				URL:       pkgURL,
				SHA256:    pkg.SHA256,
				Signature: signature,
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

// Stage installs the staged package files with pacman.
func (p *Plugin) Stage(ctx context.Context, session *container.Session, packages []types.LockedPackage, cache *pkgcache.Cache) error {
	return distro.StageFiles(ctx, session, packages, cache, func(paths []string) []string {
		return append([]string{"pacman", "-U", "--noconfirm"}, paths...)
	})
}

// PackageURL returns the canonical archive URL of a package. Epoch colons
// in the filename are escaped, matching the archive's layout.
func (p *Plugin) PackageURL(pkg database.Package) string {
	first := strings.ToLower(pkg.Name[:1])
	filename := strings.ReplaceAll(pkg.Filename, ":", "%3A")

	return fmt.Sprintf("%s/%s/%s/%s", p.ArchiveURL, first, pkg.Name, filename)
}

// ParsePacmanConf extracts the repository names from a pacman.conf, in
// order of appearance.
func ParsePacmanConf(r io.Reader) []string {
	var repos []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
			continue
		}

		name := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
		if name == "options" {
			continue
		}

		repos = append(repos, name)
	}

	return repos
}

// ParseIndex parses a repository database (a compressed tar of per-package
// desc and depends entries) into packages.
func ParseIndex(r io.Reader) ([]database.Package, error) {
	dr, err := archive.NewReader(r, "db.tar.gz")
	if err != nil {
		return nil, err
	}
	defer dr.Close()

	// Per-package entries may be split across desc and depends files;
	// merge the fields per directory before converting.
	fieldsByDir := map[string]map[string][]string{}

	err = archive.WalkTar(dr, func(hdr *tar.Header, r io.Reader) error {
		base := path.Base(hdr.Name)
		if base != "desc" && base != "depends" {
			return nil
		}

		content, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("%w: failed to read %s: %w", errdefs.ErrArchive, hdr.Name, err)
		}

		dir := path.Dir(hdr.Name)
		if fieldsByDir[dir] == nil {
			fieldsByDir[dir] = map[string][]string{}
		}

		parseFields(string(content), fieldsByDir[dir])
		return nil
	})
	if err != nil {
		return nil, err
	}

	var packageList []database.Package
	for dir, fields := range fieldsByDir {
		name := first(fields["NAME"])
		if name == "" {
			return nil, fmt.Errorf("%w: database entry %s has no name", errdefs.ErrParse, dir)
		}

		pkg := database.Package{
			Name:      name,
			Version:   first(fields["VERSION"]),
			Filename:  first(fields["FILENAME"]),
			SHA256:    first(fields["SHA256SUM"]),
			Signature: first(fields["PGPSIG"]),
		}

		for _, dep := range fields["DEPENDS"] {
			pkg.Depends = append(pkg.Depends, []string{stripVersionConstraint(dep)})
		}

		for _, provided := range fields["PROVIDES"] {
			pkg.Provides = append(pkg.Provides, stripVersionConstraint(provided))
		}

		packageList = append(packageList, pkg)
	}

	return packageList, nil
}

// parseFields merges %FIELD% blocks into the accumulator.
func parseFields(content string, fields map[string][]string) {
	var field string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			field = ""
			continue
		}

		if strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%") {
			field = strings.Trim(line, "%")
			continue
		}

		if field != "" {
			fields[field] = append(fields[field], line)
		}
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// stripVersionConstraint reduces a dependency expression like zlib>=1.3 to
// its package name.
func stripVersionConstraint(dep string) string {
	return strings.FieldsFunc(dep, func(r rune) bool {
		return r == '<' || r == '>' || r == '='
	})[0]
}

func nativeArch(goArch string) string {
	switch goArch {
	case "", "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return goArch
	}
}
