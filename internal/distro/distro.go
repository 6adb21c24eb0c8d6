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

// Package distro defines the per-distribution plugin capability: resolving
// requested package names into locked packages, and staging locked packages
// into a running build container.
package distro

import (
	"context"
	"fmt"
	"net/url"
	"path"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/dpeckett/repro-env/internal/constants"
	"github.com/dpeckett/repro-env/internal/container"
	"github.com/dpeckett/repro-env/internal/errdefs"
	"github.com/dpeckett/repro-env/internal/fetch"
	"github.com/dpeckett/repro-env/internal/pkgcache"
	"github.com/dpeckett/repro-env/internal/types"
)

// ResolveRequest carries everything a plugin needs to resolve a manifest's
// dependency list against the repositories of the base image.
type ResolveRequest struct {
	// Image is the base container image, pinned to a digest.
	Image string
	// Dependencies are the requested package names, as the user wrote them.
	Dependencies []string
	// Fetcher downloads repository metadata and package files.
	Fetcher *fetch.Fetcher
	// Keyring verifies repository or package signatures, where the system
	// supports it.
	Keyring openpgp.EntityList
	// Engine inspects the base image.
	Engine *container.Engine
	// Architecture is the GOARCH style architecture of the target image.
	Architecture string
}

// Plugin is a per-distribution resolver and installer pair.
type Plugin interface {
	// System returns the package system identifier.
	System() string
	// Resolve computes the dependency closure of the requested packages
	// and pins every member by URL and SHA-256.
	Resolve(ctx context.Context, req *ResolveRequest) ([]types.LockedPackage, error)
	// Stage copies pre-verified package files from the cache into the
	// session container and installs them with the distribution's own
	// tooling.
	Stage(ctx context.Context, session *container.Session, packages []types.LockedPackage, cache *pkgcache.Cache) error
}

// Filename returns the file name a locked package is staged under inside
// the container, derived from its URL.
func Filename(pkg types.LockedPackage) (string, error) {
	u, err := url.Parse(pkg.URL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid package URL: %w", errdefs.ErrParse, err)
	}

	name, err := url.PathUnescape(path.Base(u.Path))
	if err != nil {
		return "", fmt.Errorf("%w: invalid package URL: %w", errdefs.ErrParse, err)
	}

	return name, nil
}

// StageFiles copies every locked package from the cache into the session's
// package directory and runs the distribution's install command over the
// staged paths. Cache entries are expected to be present and pre-verified
// by the build workflow.
func StageFiles(ctx context.Context, session *container.Session, packages []types.LockedPackage, cache *pkgcache.Cache, installArgv func(paths []string) []string) error {
	if len(packages) == 0 {
		return nil
	}

	if err := session.Exec(ctx, "mkdir", "-p", constants.PackageDir); err != nil {
		return err
	}

	stagedPaths := make([]string, 0, len(packages))
	for _, pkg := range packages {
		name, err := Filename(pkg)
		if err != nil {
			return err
		}

		dst := path.Join(constants.PackageDir, name)
		if err := session.CopyInto(ctx, cache.Path(pkg.SHA256), dst); err != nil {
			return err
		}

		stagedPaths = append(stagedPaths, dst)
	}

	return session.Exec(ctx, installArgv(stagedPaths)...)
}

var plugins = map[string]Plugin{}

// Register adds a plugin to the dispatch table. Called from plugin package
// init functions.
func Register(p Plugin) {
	plugins[p.System()] = p
}

// ForSystem returns the plugin for a package system.
func ForSystem(system string) (Plugin, error) {
	p, ok := plugins[system]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported package system: %s", errdefs.ErrResolve, system)
	}

	return p, nil
}
