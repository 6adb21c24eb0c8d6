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

// Package debian resolves packages against the Debian snapshot service.
// Repository metadata is authenticated end to end: the snapshot's InRelease
// file is verified against the archive keyring, and every Packages index is
// checked against the digests InRelease records before it is trusted.
package debian

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/dpeckett/deb822"
	debtypes "github.com/dpeckett/deb822/types"
	"github.com/dpeckett/deb822/types/dependency"

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
	"github.com/dpeckett/repro-env/internal/util/hashreader"
)

const defaultSuite = "stable"

var defaultComponents = []string{"main"}

var snapshotRegexp = regexp.MustCompile(`\d{8}T\d{6}Z`)

// Plugin resolves and stages Debian packages.
type Plugin struct {
	// SnapshotURL is the root of the snapshot service.
	SnapshotURL string
}

func init() {
	distro.Register(New())
}

// New creates the plugin against the default snapshot service.
func New() *Plugin {
	return &Plugin{SnapshotURL: constants.DebianSnapshotURL}
}

func (p *Plugin) System() string {
	return types.SystemDebian
}

// Resolve pins the newest snapshot of the archive, verifies its InRelease
// file against the archive keyring, and computes the dependency closure of
// the requested packages over the verified Packages indexes.
func (p *Plugin) Resolve(ctx context.Context, req *distro.ResolveRequest) ([]types.LockedPackage, error) {
	listing, err := fetch.Metadata(ctx, p.SnapshotURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	timestamp, err := LatestSnapshot(listing)
	if err != nil {
		return nil, err
	}

	snapshotBase := strings.TrimSuffix(p.SnapshotURL, "/") + "/" + timestamp + "/"

	slog.Debug("Using snapshot", slog.String("base", snapshotBase))

	suite := defaultSuite
	if osRelease, err := req.Engine.ReadImageFile(ctx, req.Image, "/etc/os-release"); err == nil {
		if codename := osReleaseCodename(bytes.NewReader(osRelease)); codename != "" {
			suite = codename
		}
	} else {
		slog.Warn("Failed to read os-release from image, using default suite",
			slog.Any("error", err))
	}

	inReleaseData, err := fetch.Metadata(ctx, snapshotBase+"dists/"+suite+"/InRelease")
	if err != nil {
		return nil, fmt.Errorf("failed to download InRelease file: %w", err)
	}

	decoder, err := deb822.NewDecoder(bytes.NewReader(inReleaseData), req.Keyring)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create decoder: %w", errdefs.ErrParse, err)
	}

	if decoder.Signer() == nil {
		return nil, fmt.Errorf("%w: InRelease file is not signed by a trusted key", errdefs.ErrSignature)
	}

	var release debtypes.Release
	if err := decoder.Decode(&release); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal InRelease file: %w", errdefs.ErrParse, err)
	}

	indexSHA256Sums := make(map[string]string)
	for _, fileHash := range release.SHA256 {
		indexSHA256Sums[fileHash.Filename] = fileHash.Hash
	}

	arch := debArch(req.Architecture)

	packageDB := database.NewPackageDB()
	for _, component := range defaultComponents {
		packageList, err := p.componentPackages(ctx, snapshotBase, suite, component, arch, indexSHA256Sums)
		if err != nil {
			return nil, err
		}

		packageDB.AddAll(packageList)
	}

	selected, err := resolve.Resolve(packageDB, req.Dependencies)
	if err != nil {
		return nil, err
	}

	locked := make([]types.LockedPackage, 0, len(selected))
	for _, pkg := range selected {
		locked = append(locked, types.LockedPackage{
			Name:    pkg.Name,
			Version: pkg.Version,
			System:  types.SystemDebian,
			URL:     pkg.URL,
			SHA256:  pkg.SHA256,
		})
	}

	return locked, nil
}

// componentPackages downloads and verifies the Packages index of one
// (component, architecture) pair.
func (p *Plugin) componentPackages(ctx context.Context, snapshotBase, suite, component, arch string, indexSHA256Sums map[string]string) ([]database.Package, error) {
	var errs error

	for _, name := range []string{"Packages.xz", "Packages.gz"} {
		indexPath := component + "/binary-" + arch + "/" + name
		indexURL := snapshotBase + "dists/" + suite + "/" + indexPath

		slog.Debug("Attempting to download Packages file", slog.String("url", indexURL))

		indexData, err := fetch.Metadata(ctx, indexURL)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}

		expected, ok := indexSHA256Sums[indexPath]
		if !ok {
			errs = errors.Join(errs, fmt.Errorf("%w: InRelease does not cover %s", errdefs.ErrSignature, indexPath))
			continue
		}

		hr := hashreader.NewReader(bytes.NewReader(indexData))
		if _, err := io.Copy(io.Discard, hr); err != nil {
			return nil, err
		}
		if err := hr.Verify(expected); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to verify %s: %w", name, err))
			continue
		}

		dr, err := archive.NewReader(bytes.NewReader(indexData), name)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		defer dr.Close()

		packageList, err := ParsePackages(dr, snapshotBase)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}

		return packageList, nil
	}

	return nil, fmt.Errorf("failed to download Packages file: %w", errs)
}

// Stage installs the staged package files with apt.
func (p *Plugin) Stage(ctx context.Context, session *container.Session, packages []types.LockedPackage, cache *pkgcache.Cache) error {
	return distro.StageFiles(ctx, session, packages, cache, func(paths []string) []string {
		return append([]string{"apt-get", "install", "-y", "--no-install-recommends"}, paths...)
	})
}

// ParsePackages decodes the RFC-822 stanzas of a Packages index into
// packages with snapshot pinned URLs. Pre-Depends relations count the same
// as Depends for closure purposes; alternative and virtual targets are
// preserved for the resolver.
func ParsePackages(r io.Reader, snapshotBase string) ([]database.Package, error) {
	decoder, err := deb822.NewDecoder(r, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create decoder: %w", errdefs.ErrParse, err)
	}

	var stanzas []debtypes.Package
	if err := decoder.Decode(&stanzas); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal Packages file: %w", errdefs.ErrParse, err)
	}

	packageList := make([]database.Package, 0, len(stanzas))
	for _, stanza := range stanzas {
		pkg := database.Package{
			Name:     stanza.Name,
			Version:  stanza.Version.String(),
			Filename: stanza.Filename,
			URL:      snapshotBase + stanza.Filename,
			SHA256:   stanza.SHA256,
		}

		var rels []dependency.Relation
		rels = append(rels, stanza.PreDepends.Relations...)
		rels = append(rels, stanza.Depends.Relations...)

		for _, rel := range rels {
			var alternatives []string
			for _, possi := range rel.Possibilities {
				alternatives = append(alternatives, possi.Name)
			}

			if len(alternatives) > 0 {
				pkg.Depends = append(pkg.Depends, alternatives)
			}
		}

		for _, rel := range stanza.Provides.Relations {
			for _, possi := range rel.Possibilities {
				pkg.Provides = append(pkg.Provides, possi.Name)
			}
		}

		packageList = append(packageList, pkg)
	}

	return packageList, nil
}

// LatestSnapshot returns the newest snapshot timestamp found in a listing
// of the snapshot service.
func LatestSnapshot(listing []byte) (string, error) {
	timestamps := snapshotRegexp.FindAllString(string(listing), -1)
	if len(timestamps) == 0 {
		return "", fmt.Errorf("%w: snapshot listing contains no timestamps", errdefs.ErrParse)
	}

	sort.Strings(timestamps)

	return timestamps[len(timestamps)-1], nil
}

// osReleaseCodename extracts VERSION_CODENAME from an os-release file.
func osReleaseCodename(r io.Reader) string {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if value, ok := strings.CutPrefix(line, "VERSION_CODENAME="); ok {
			return strings.Trim(value, `"`)
		}
	}

	return ""
}

func debArch(goArch string) string {
	switch goArch {
	case "", "amd64":
		return "amd64"
	case "arm64":
		return "arm64"
	default:
		return goArch
	}
}
