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

// Package build implements the reconstruction workflow: lockfile in,
// provisioned container out, user command executed inside it. Nothing is
// installed that has not been verified against the lockfile hashes first.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"github.com/dpeckett/repro-env/internal/constants"
	"github.com/dpeckett/repro-env/internal/container"
	"github.com/dpeckett/repro-env/internal/distro"
	"github.com/dpeckett/repro-env/internal/fetch"
	"github.com/dpeckett/repro-env/internal/lockfile"
	"github.com/dpeckett/repro-env/internal/types"
)

// Options configures a build run.
type Options struct {
	// LockfilePath is the lockfile describing the environment.
	LockfilePath string
	// Keep preserves the container after the run for inspection.
	Keep bool
	// Env are environment variables forwarded to the user command, either
	// VAR=VAL or VAR (forwarding the caller's value).
	Env []string
	// Command is the user command and its arguments.
	Command []string
	// Engine is the container engine handle.
	Engine *container.Engine
	// Fetcher downloads missing package files into the cache.
	Fetcher *fetch.Fetcher
}

// Run reconstructs the locked environment and executes the user command
// inside it. A non-zero user command exit surfaces as an ExitCodeError so
// the caller can forward the code unchanged.
func Run(ctx context.Context, opts Options) error {
	lock, err := lockfile.Load(opts.LockfilePath)
	if err != nil {
		return err
	}

	if err := fetchPackages(ctx, opts.Fetcher, lock.Packages); err != nil {
		return err
	}

	session, err := opts.Engine.StartSession(ctx, lock.Container.Image, opts.Keep)
	if err != nil {
		return err
	}
	defer func() {
		// Use a fresh context: teardown must still run after cancellation.
		if err := session.Teardown(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Failed to tear down container", slog.Any("error", err))
		}
	}()

	// Relay cancellation (SIGINT/SIGTERM) to the container, best-effort.
	stopRelay := context.AfterFunc(ctx, func() {
		session.Signal(context.WithoutCancel(ctx), "SIGTERM")
	})
	defer stopRelay()

	for _, system := range types.Systems {
		var systemPackages []types.LockedPackage
		for _, pkg := range lock.Packages {
			if pkg.System == system {
				systemPackages = append(systemPackages, pkg)
			}
		}

		if len(systemPackages) == 0 {
			continue
		}

		plugin, err := distro.ForSystem(system)
		if err != nil {
			return err
		}

		slog.Info("Installing packages",
			slog.String("system", system), slog.Int("count", len(systemPackages)))

		if err := plugin.Stage(ctx, session, systemPackages, opts.Fetcher.Cache()); err != nil {
			return err
		}
	}
	session.MarkProvisioned()

	env, err := resolveEnv(opts.Env)
	if err != nil {
		return err
	}

	slog.Debug("Running user command", slog.String("command", strings.Join(opts.Command, " ")))

	return session.ExecUser(ctx, opts.Command, env)
}

// fetchPackages ensures every locked package is present in the cache and
// still hashes to its recorded digest. Entries already present are
// re-verified rather than trusted.
func fetchPackages(ctx context.Context, fetcher *fetch.Fetcher, packages []types.LockedPackage) error {
	if len(packages) == 0 {
		return nil
	}

	var progress *mpb.Progress
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		progress = mpb.NewWithContext(ctx)
		defer progress.Shutdown()
	}

	var bar *mpb.Bar
	if progress != nil {
		bar = progress.AddBar(int64(len(packages)),
			mpb.PrependDecorators(
				decor.Name("Fetching: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
			),
		)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.DownloadConcurrency)

	cache := fetcher.Cache()
	for _, pkg := range packages {
		pkg := pkg

		g.Go(func() error {
			defer func() {
				if bar != nil {
					bar.Increment()
				}
			}()

			if cache.Contains(pkg.SHA256) {
				if err := cache.Verify(pkg.SHA256); err != nil {
					return fmt.Errorf("cache entry for %s is corrupt: %w", pkg.Name, err)
				}

				return nil
			}

			if _, err := fetcher.GetOrFetch(ctx, pkg.URL, pkg.SHA256); err != nil {
				return fmt.Errorf("failed to fetch %s: %w", pkg.Name, err)
			}

			return nil
		})
	}

	err := g.Wait()

	if bar != nil {
		if err != nil {
			bar.Abort(true)
		} else {
			bar.SetTotal(bar.Current(), true)
		}
		bar.Wait()
	}

	return err
}

// resolveEnv expands VAR entries to VAR=VAL pairs using the caller's
// environment.
func resolveEnv(env []string) ([]string, error) {
	resolved := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.Contains(kv, "=") {
			resolved = append(resolved, kv)
			continue
		}

		value, ok := os.LookupEnv(kv)
		if !ok {
			return nil, fmt.Errorf("environment variable %s is not set", kv)
		}

		resolved = append(resolved, kv+"="+value)
	}

	return resolved, nil
}
