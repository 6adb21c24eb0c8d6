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

// Package update implements the resolve workflow: manifest in, fully
// pinned lockfile out. Any failure aborts the run before the lockfile is
// touched.
package update

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dpeckett/repro-env/internal/container"
	"github.com/dpeckett/repro-env/internal/distro"
	"github.com/dpeckett/repro-env/internal/errdefs"
	"github.com/dpeckett/repro-env/internal/fetch"
	"github.com/dpeckett/repro-env/internal/lockfile"
	"github.com/dpeckett/repro-env/internal/manifest"
	"github.com/dpeckett/repro-env/internal/pgp"
	"github.com/dpeckett/repro-env/internal/types"
)

// Options configures an update run.
type Options struct {
	// ManifestPath is the manifest to resolve.
	ManifestPath string
	// LockfilePath is where the pinned lockfile is written.
	LockfilePath string
	// NoPull skips pulling the base image; it must then be present locally.
	NoPull bool
	// Keyring overrides the bundled certificate set (a path or HTTPS URL).
	Keyring string
	// Engine is the container engine handle.
	Engine *container.Engine
	// Fetcher downloads package files into the cache.
	Fetcher *fetch.Fetcher
	// Architecture overrides the target architecture (GOARCH style).
	Architecture string
}

// Run resolves the manifest into a lockfile.
func Run(ctx context.Context, opts Options) error {
	m, err := manifest.Load(opts.ManifestPath)
	if err != nil {
		return err
	}

	if opts.NoPull {
		if !opts.Engine.ImageExists(ctx, m.Container.Image) {
			return fmt.Errorf("%w: image %s is not present locally",
				errdefs.ErrContainerEngine, m.Container.Image)
		}
	} else {
		if err := opts.Engine.Pull(ctx, m.Container.Image); err != nil {
			return err
		}
	}

	digest, err := opts.Engine.ImageDigest(ctx, m.Container.Image)
	if err != nil {
		return err
	}

	pinnedImage := PinImage(m.Container.Image, digest)

	slog.Info("Pinned image", slog.String("image", pinnedImage))

	lock := types.Lockfile{
		Container: types.LockfileContainer{Image: pinnedImage},
	}

	if m.Packages != nil {
		plugin, err := distro.ForSystem(m.Packages.System)
		if err != nil {
			return err
		}

		keyringSource := opts.Keyring
		if keyringSource == "" {
			keyringSource, err = pgp.BundledKeyringPath(m.Packages.System)
			if err != nil {
				return err
			}
		}

		keyring, err := pgp.LoadKeyring(ctx, keyringSource)
		if err != nil {
			return fmt.Errorf("failed to load keyring: %w", err)
		}

		slog.Info("Resolving packages",
			slog.String("system", m.Packages.System),
			slog.Int("requested", len(m.Packages.Dependencies)))

		locked, err := plugin.Resolve(ctx, &distro.ResolveRequest{
			Image:        pinnedImage,
			Dependencies: m.Packages.Dependencies,
			Fetcher:      opts.Fetcher,
			Keyring:      keyring,
			Engine:       opts.Engine,
			Architecture: opts.Architecture,
		})
		if err != nil {
			return err
		}

		lock.Packages = locked
	}

	logChanges(opts.LockfilePath, &lock)

	if err := lockfile.Save(opts.LockfilePath, &lock); err != nil {
		return err
	}

	slog.Info("Wrote lockfile",
		slog.String("path", opts.LockfilePath), slog.Int("packages", len(lock.Packages)))

	return nil
}

// PinImage rewrites an image reference to carry the resolved digest in
// place of any tag.
func PinImage(image, digest string) string {
	name := image

	slash := strings.LastIndex(name, "/")
	if colon := strings.LastIndex(name, ":"); colon > slash {
		name = name[:colon]
	}

	return name + "@" + digest
}

// logChanges summarizes the difference against an existing lockfile.
func logChanges(path string, lock *types.Lockfile) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	previous, err := lockfile.Load(path)
	if err != nil {
		return
	}

	known := map[string]bool{}
	for _, pkg := range previous.Packages {
		known[pkg.System+"/"+pkg.Name+"="+pkg.Version] = true
	}

	var added int
	current := map[string]bool{}
	for _, pkg := range lock.Packages {
		id := pkg.System + "/" + pkg.Name + "=" + pkg.Version
		current[id] = true
		if !known[id] {
			added++
		}
	}

	var removed int
	for id := range known {
		if !current[id] {
			removed++
		}
	}

	if added > 0 || removed > 0 {
		slog.Info("Lockfile changes", slog.Int("added", added), slog.Int("removed", removed))
	}
}
