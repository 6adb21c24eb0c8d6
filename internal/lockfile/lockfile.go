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

package lockfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/dpeckett/repro-env/internal/errdefs"
	"github.com/dpeckett/repro-env/internal/types"
)

var (
	digestRegexp = regexp.MustCompile(`@sha256:[0-9a-f]{64}$`)
	sha256Regexp = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// FromTOML reads the given reader and returns a lockfile object.
func FromTOML(r io.Reader) (*types.Lockfile, error) {
	var lock types.Lockfile

	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&lock); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal lockfile: %w", errdefs.ErrParse, err)
	}

	if !digestRegexp.MatchString(lock.Container.Image) {
		return nil, fmt.Errorf("%w: lockfile image is not pinned to a digest: %s",
			errdefs.ErrParse, lock.Container.Image)
	}

	for _, pkg := range lock.Packages {
		if !sha256Regexp.MatchString(pkg.SHA256) {
			return nil, fmt.Errorf("%w: invalid sha256 for package %s: %s",
				errdefs.ErrParse, pkg.Name, pkg.SHA256)
		}

		if !slices.Contains(types.Systems, pkg.System) {
			return nil, fmt.Errorf("%w: unsupported package system: %s",
				errdefs.ErrParse, pkg.System)
		}
	}

	return &lock, nil
}

// ToTOML writes the lockfile to the given writer with a stable field and
// package ordering, so equivalent inputs serialize byte-identically.
func ToTOML(w io.Writer, lock *types.Lockfile) error {
	normalized := types.Lockfile{
		Container: lock.Container,
		Packages:  slices.Clone(lock.Packages),
	}

	for i := range normalized.Packages {
		normalized.Packages[i].SHA256 = strings.ToLower(normalized.Packages[i].SHA256)
	}

	slices.SortFunc(normalized.Packages, func(a, b types.LockedPackage) int {
		return a.Compare(b)
	})

	lockBytes, err := toml.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("failed to marshal lockfile: %w", err)
	}

	if !strings.HasSuffix(string(lockBytes), "\n") {
		lockBytes = append(lockBytes, '\n')
	}

	if _, err := w.Write(lockBytes); err != nil {
		return fmt.Errorf("failed to write lockfile: %w", err)
	}

	return nil
}

// Load reads a lockfile from the given path.
func Load(path string) (*types.Lockfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lockfile: %w", err)
	}
	defer f.Close()

	return FromTOML(f)
}

// Save writes the lockfile to the given path via a temporary sibling and an
// atomic rename, so a failed run never leaves a partial lockfile behind.
func Save(path string, lock *types.Lockfile) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temporary lockfile: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	if err := ToTOML(f, lock); err != nil {
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temporary lockfile: %w", err)
	}

	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("failed to rename lockfile into place: %w", err)
	}

	return nil
}
