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

// Package errdefs defines the error kinds surfaced by the tool. Callers wrap
// these with contextual messages and match them with errors.Is.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParse indicates a malformed manifest, lockfile, or repository
	// metadata document.
	ErrParse = errors.New("parse error")
	// ErrNetwork indicates a transport level failure.
	ErrNetwork = errors.New("network error")
	// ErrHashMismatch indicates content whose hash disagrees with the
	// expected value.
	ErrHashMismatch = errors.New("hash mismatch")
	// ErrSignature indicates a failed OpenPGP verification.
	ErrSignature = errors.New("signature invalid")
	// ErrResolve indicates unsatisfiable dependencies, an ambiguous
	// provider, or an unknown package.
	ErrResolve = errors.New("resolve error")
	// ErrArchive indicates a decompression or archive structure error.
	ErrArchive = errors.New("archive error")
	// ErrContainerEngine indicates the container engine refused, exited
	// non-zero, or is missing.
	ErrContainerEngine = errors.New("container engine error")
)

// HashMismatchError reports the expected and observed SHA-256 digests of a
// piece of content.
type HashMismatchError struct {
	Expected string
	Observed string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch: expected %s, got %s", e.Expected, e.Observed)
}

func (e *HashMismatchError) Is(target error) bool {
	return target == ErrHashMismatch
}

// HTTPStatusError reports a non-success HTTP response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected response for %s: %s", e.URL, e.Status)
}

func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrNetwork
}

// AmbiguousProviderError reports a virtual package with multiple viable
// providers and no way to choose between them.
type AmbiguousProviderError struct {
	Name      string
	Providers []string
}

func (e *AmbiguousProviderError) Error() string {
	return fmt.Sprintf("ambiguous provider for %s: %s", e.Name, strings.Join(e.Providers, ", "))
}

func (e *AmbiguousProviderError) Is(target error) bool {
	return target == ErrResolve
}

// ExitCodeError carries the exit code of the user command so it can be
// forwarded unchanged rather than collapsed into a generic failure.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}
