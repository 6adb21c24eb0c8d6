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

// Package pkgcache implements the content-addressed package store. Entries
// are files named by the lowercase hex SHA-256 of their content. Writers
// hold an advisory lock over a sentinel file and commit with an atomic
// rename; readers never lock.
package pkgcache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/dpeckett/repro-env/internal/util/hashreader"
)

const lockFilename = ".lock"

// Cache is a filesystem backed content-addressed store.
type Cache struct {
	dir string
}

// New opens (creating if necessary) a cache rooted at dir.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Cache{dir: dir}, nil
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the path an entry with the given digest would live at,
// whether or not it exists.
func (c *Cache) Path(sum string) string {
	return filepath.Join(c.dir, sum)
}

// Contains reports whether an entry with the given digest exists.
func (c *Cache) Contains(sum string) bool {
	_, err := os.Stat(c.Path(sum))
	return err == nil
}

// Verify re-hashes an existing entry and confirms its content still matches
// its name.
func (c *Cache) Verify(sum string) error {
	f, err := os.Open(c.Path(sum))
	if err != nil {
		return fmt.Errorf("failed to open cache entry: %w", err)
	}
	defer f.Close()

	hr := hashreader.NewReader(f)
	if _, err := io.Copy(io.Discard, hr); err != nil {
		return fmt.Errorf("failed to read cache entry: %w", err)
	}

	return hr.Verify(sum)
}

// Put drains the reader into the cache, verifying the content hashes to
// expected. On success the entry is committed with an atomic rename and its
// final path returned. On a hash mismatch the temporary file is deleted and
// a HashMismatchError returned.
func (c *Cache) Put(r io.Reader, expected string) (string, error) {
	path, _, err := c.put(r, expected)
	return path, err
}

// PutComputing drains the reader into the cache without an expected digest,
// naming the entry by the observed hash. Used where repository indexes do
// not carry a SHA-256 for the artifact.
func (c *Cache) PutComputing(r io.Reader) (string, string, error) {
	return c.put(r, "")
}

func (c *Cache) put(r io.Reader, expected string) (string, string, error) {
	fl := flock.New(filepath.Join(c.dir, lockFilename))
	if err := fl.Lock(); err != nil {
		return "", "", fmt.Errorf("failed to acquire cache lock: %w", err)
	}
	defer func() {
		_ = fl.Unlock()
	}()

	pattern := expected
	if pattern == "" {
		pattern = "entry"
	}

	f, err := os.CreateTemp(c.dir, pattern+".tmp.*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temporary cache file: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	hr := hashreader.NewReader(r)
	if _, err := io.Copy(f, hr); err != nil {
		return "", "", fmt.Errorf("failed to write cache entry: %w", err)
	}

	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("failed to close temporary cache file: %w", err)
	}

	sum := hr.Sum()
	if expected != "" {
		if err := hr.Verify(expected); err != nil {
			return "", "", err
		}
	}

	path := c.Path(sum)
	if err := os.Rename(f.Name(), path); err != nil {
		return "", "", fmt.Errorf("failed to commit cache entry: %w", err)
	}

	return path, sum, nil
}

// Open returns a reader for an existing entry, or an error wrapping
// os.ErrNotExist if the entry is absent.
func (c *Cache) Open(sum string) (io.ReadCloser, error) {
	f, err := os.Open(c.Path(sum))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cache entry %s: %w", sum, os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to open cache entry: %w", err)
	}

	return f, nil
}
