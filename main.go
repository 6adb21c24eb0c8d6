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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/gregjones/httpcache"
	"github.com/urfave/cli/v2"

	"github.com/dpeckett/repro-env/internal/build"
	"github.com/dpeckett/repro-env/internal/constants"
	"github.com/dpeckett/repro-env/internal/container"
	_ "github.com/dpeckett/repro-env/internal/distro/alpine"
	_ "github.com/dpeckett/repro-env/internal/distro/archlinux"
	_ "github.com/dpeckett/repro-env/internal/distro/debian"
	"github.com/dpeckett/repro-env/internal/errdefs"
	"github.com/dpeckett/repro-env/internal/fetch"
	"github.com/dpeckett/repro-env/internal/pkgcache"
	"github.com/dpeckett/repro-env/internal/update"
	"github.com/dpeckett/repro-env/internal/util"
	"github.com/dpeckett/repro-env/internal/util/diskcache"
)

func main() {
	defaultCacheDir, _ := xdg.CacheFile("repro-env")

	persistentFlags := []cli.Flag{
		&cli.GenericFlag{
			Name:  "log-level",
			Usage: "Set the log verbosity level",
			Value: util.FromSlogLevel(slog.LevelInfo),
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
		},
		&cli.StringFlag{
			Name:    "context",
			Aliases: []string{"C"},
			Usage:   "Change the working directory before doing anything else",
		},
		&cli.StringFlag{
			Name:   "cache-dir",
			Usage:  "Directory to store the cache",
			Value:  defaultCacheDir,
			Hidden: true,
		},
		&cli.StringFlag{
			Name:  "engine",
			Usage: "Container engine binary to use",
			Value: constants.DefaultEngine,
		},
	}

	initLogger := func(c *cli.Context) error {
		level := (*slog.Level)(c.Generic("log-level").(*util.LevelFlag))
		if c.Bool("verbose") {
			debug := slog.LevelDebug
			level = &debug
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))

		return nil
	}

	initWorkDir := func(c *cli.Context) error {
		if dir := c.String("context"); dir != "" {
			if err := os.Chdir(dir); err != nil {
				return fmt.Errorf("failed to change directory: %w", err)
			}
		}

		return nil
	}

	initCacheDir := func(c *cli.Context) error {
		cacheDir := c.String("cache-dir")
		if cacheDir == "" {
			return fmt.Errorf("no cache directory specified")
		}

		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}

		// Cache repository metadata responses on disk.
		cache, err := diskcache.NewDiskCache(cacheDir, "http")
		if err != nil {
			return fmt.Errorf("failed to create disk cache: %w", err)
		}

		http.DefaultClient = &http.Client{
			Transport: httpcache.NewTransport(cache),
		}

		return nil
	}

	newFetcher := func(c *cli.Context) (*fetch.Fetcher, error) {
		cache, err := pkgcache.New(filepath.Join(c.String("cache-dir"), "pkgs"))
		if err != nil {
			return nil, err
		}

		return fetch.NewFetcher(cache), nil
	}

	app := &cli.App{
		Name:    "repro-env",
		Usage:   "Reproducible build environments",
		Version: constants.Version,
		Commands: []*cli.Command{
			{
				Name:  "update",
				Usage: "Resolve the manifest into a pinned lockfile",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "filename",
						Aliases: []string{"f"},
						Usage:   "Manifest file to resolve",
						Value:   constants.DefaultManifestFilename,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Lockfile to write",
						Value:   constants.DefaultLockfileFilename,
					},
					&cli.BoolFlag{
						Name:  "no-pull",
						Usage: "Do not pull the base image; it must be present locally",
					},
					&cli.BoolFlag{
						Name:    "keep",
						Aliases: []string{"k"},
						Usage:   "Has no effect: resolution only starts short-lived containers, which are always removed",
					},
					&cli.StringFlag{
						Name:  "keyring",
						Usage: "Override the bundled signing keyring (path or HTTPS URL)",
					},
				}, persistentFlags...),
				Before: util.BeforeAll(initLogger, initWorkDir, initCacheDir),
				Action: func(c *cli.Context) error {
					engine, err := container.NewEngine(c.String("engine"))
					if err != nil {
						return err
					}

					fetcher, err := newFetcher(c)
					if err != nil {
						return err
					}

					return update.Run(c.Context, update.Options{
						ManifestPath: c.String("filename"),
						LockfilePath: c.String("output"),
						NoPull:       c.Bool("no-pull"),
						Keyring:      c.String("keyring"),
						Engine:       engine,
						Fetcher:      fetcher,
					})
				},
			},
			{
				Name:      "build",
				Usage:     "Reconstruct the locked environment and run a command in it",
				ArgsUsage: "-- <command> [args...]",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "filename",
						Aliases: []string{"f"},
						Usage:   "Lockfile to use",
						Value:   constants.DefaultLockfileFilename,
					},
					&cli.BoolFlag{
						Name:    "keep",
						Aliases: []string{"k"},
						Usage:   "Keep the container after the command exits",
					},
					&cli.StringSliceFlag{
						Name:    "env",
						Aliases: []string{"e"},
						Usage:   "Environment variables to forward (VAR or VAR=VAL)",
					},
				}, persistentFlags...),
				Before: util.BeforeAll(initLogger, initWorkDir, initCacheDir),
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("no command specified")
					}

					engine, err := container.NewEngine(c.String("engine"))
					if err != nil {
						return err
					}

					fetcher, err := newFetcher(c)
					if err != nil {
						return err
					}

					return build.Run(c.Context, build.Options{
						LockfilePath: c.String("filename"),
						Keep:         c.Bool("keep"),
						Env:          c.StringSlice("env"),
						Command:      c.Args().Slice(),
						Engine:       engine,
						Fetcher:      fetcher,
					})
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		var exitCodeErr *errdefs.ExitCodeError
		if errors.As(err, &exitCodeErr) {
			os.Exit(exitCodeErr.Code)
		}

		slog.Error("Error", slog.Any("error", err))
		os.Exit(1)
	}
}
