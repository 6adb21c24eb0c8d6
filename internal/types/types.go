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

package types

import "strings"

// Supported package systems.
const (
	SystemArchlinux = "archlinux"
	SystemDebian    = "debian"
	SystemAlpine    = "alpine"
)

// Systems lists the supported package systems.
var Systems = []string{SystemArchlinux, SystemDebian, SystemAlpine}

// Manifest is the user authored environment description.
type Manifest struct {
	Container ManifestContainer `toml:"container"`
	Packages  *ManifestPackages `toml:"packages,omitempty"`
}

// ManifestContainer names the base image, without a digest.
type ManifestContainer struct {
	Image string `toml:"image"`
}

// ManifestPackages names the package system and the requested dependencies,
// in the order the user wrote them.
type ManifestPackages struct {
	System       string   `toml:"system"`
	Dependencies []string `toml:"dependencies"`
}

// Lockfile pins the environment: the image by digest and every package by
// content hash.
type Lockfile struct {
	Container LockfileContainer `toml:"container"`
	Packages  []LockedPackage   `toml:"package,omitempty"`
}

// LockfileContainer names the base image, pinned to a digest.
type LockfileContainer struct {
	Image string `toml:"image"`
}

// LockedPackage is one fully identified package in the lockfile.
type LockedPackage struct {
	Name      string `toml:"name"`
	Version   string `toml:"version"`
	System    string `toml:"system"`
	URL       string `toml:"url"`
	SHA256    string `toml:"sha256"`
	Signature string `toml:"signature,omitempty"`
}

// Compare orders locked packages lexicographically by (system, name,
// version), the order they appear in the lockfile.
func (p LockedPackage) Compare(other LockedPackage) int {
	if c := strings.Compare(p.System, other.System); c != 0 {
		return c
	}
	if c := strings.Compare(p.Name, other.Name); c != 0 {
		return c
	}
	return strings.Compare(p.Version, other.Version)
}
