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

package manifest

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/dpeckett/repro-env/internal/errdefs"
	"github.com/dpeckett/repro-env/internal/types"
)

// FromTOML reads the given reader and returns a manifest object.
func FromTOML(r io.Reader) (*types.Manifest, error) {
	var manifest types.Manifest

	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal manifest: %w", errdefs.ErrParse, err)
	}

	if manifest.Container.Image == "" {
		return nil, fmt.Errorf("%w: manifest is missing container.image", errdefs.ErrParse)
	}

	if strings.Contains(manifest.Container.Image, "@sha256:") {
		return nil, fmt.Errorf("%w: manifest image must not carry a digest: %s",
			errdefs.ErrParse, manifest.Container.Image)
	}

	if manifest.Packages != nil {
		if !slices.Contains(types.Systems, manifest.Packages.System) {
			return nil, fmt.Errorf("%w: unsupported package system: %s",
				errdefs.ErrParse, manifest.Packages.System)
		}
	}

	return &manifest, nil
}

// Load reads a manifest from the given path.
func Load(path string) (*types.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	return FromTOML(f)
}
