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

package constants

import "time"

var (
	// Version will be populated during build time.
	Version = "dev"
)

const (
	// DefaultEngine is the container engine binary used when none is specified.
	DefaultEngine = "podman"
	// BuildDir is where the invoking working directory is mounted inside the
	// build container.
	BuildDir = "/build"
	// PackageDir is where staged package files are copied inside the build
	// container.
	PackageDir = "/pkgs"
	// DefaultManifestFilename is the name of the environment manifest.
	DefaultManifestFilename = "repro-env.toml"
	// DefaultLockfileFilename is the name of the pinned lockfile.
	DefaultLockfileFilename = "repro-env.lock"
	// DownloadConcurrency bounds parallel package downloads.
	DownloadConcurrency = 4
	// ConnectTimeout applies to establishing HTTP connections.
	ConnectTimeout = 30 * time.Second
	// RequestTimeout applies to complete HTTP requests.
	RequestTimeout = 300 * time.Second
	// ArchMirrorURL is the mirror used to fetch Arch Linux repository
	// databases during resolution.
	ArchMirrorURL = "https://geo.mirror.pkgbuild.com"
	// ArchArchiveURL is the stable archive all locked Arch package URLs
	// point at.
	ArchArchiveURL = "https://archive.archlinux.org/packages"
	// DebianSnapshotURL is the root of the Debian snapshot service.
	DebianSnapshotURL = "https://snapshot.debian.org/archive/debian/"
)
