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

// Package archive provides streaming decompression and archive walking for
// the formats distribution repositories ship: gzip, xz, zstd, and lz4
// compressed streams, tar inner archives, and ar outer archives (.deb).
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/dpeckett/repro-env/internal/errdefs"
)

type decompressor func(io.Reader) (io.ReadCloser, error)

var decompressors = map[string]decompressor{
	".gz": func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	},
	".xz": func(r io.Reader) (io.ReadCloser, error) {
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	},
	".zst": func(r io.Reader) (io.ReadCloser, error) {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	},
	".lz4": func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(lz4.NewReader(r)), nil
	},
}

// NewReader returns a streaming decompressed reader for r, choosing the
// codec by the suffix of name. Unknown suffixes pass through unchanged.
func NewReader(r io.Reader, name string) (io.ReadCloser, error) {
	for suffix, decompress := range decompressors {
		if strings.HasSuffix(name, suffix) {
			dr, err := decompress(r)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to open %s stream: %w",
					errdefs.ErrArchive, strings.TrimPrefix(suffix, "."), err)
			}

			return dr, nil
		}
	}

	return io.NopCloser(r), nil
}

// WalkTar iterates the entries of the tar stream r, invoking fn with each
// header and a reader positioned at the entry's content. Returning
// io.EOF from fn stops the walk early without error.
func WalkTar(r io.Reader, fn func(hdr *tar.Header, r io.Reader) error) error {
	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: failed to read tar entry: %w", errdefs.ErrArchive, err)
		}

		if err := fn(hdr, tr); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// ArMember is one member of an ar archive.
type ArMember struct {
	Name string
	Size int64
}

// WalkAr iterates the members of the ar stream r (the outer format of
// Debian packages), invoking fn with each member and a reader positioned at
// its content. Returning io.EOF from fn stops the walk early without error.
func WalkAr(r io.Reader, fn func(member ArMember, r io.Reader) error) error {
	rdr := ar.NewReader(r)

	for {
		hdr, err := rdr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: failed to read ar member: %w", errdefs.ErrArchive, err)
		}

		member := ArMember{
			Name: strings.TrimSuffix(strings.TrimSpace(hdr.Name), "/"),
			Size: hdr.Size,
		}

		if err := fn(member, rdr); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
