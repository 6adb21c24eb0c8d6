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

// Package pgp wraps the OpenPGP subset the tool needs: loading certificate
// sets and verifying detached signatures over package metadata and package
// files.
package pgp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/dpeckett/repro-env/internal/errdefs"
	"github.com/dpeckett/repro-env/internal/types"
)

// Keyring filenames bundled with the tool, one per system that verifies
// signatures at resolve time.
var bundledKeyrings = map[string]string{
	types.SystemArchlinux: "archlinux.asc",
	types.SystemDebian:    "debian.asc",
}

// LoadKeyring reads an OpenPGP certificate set from a file or HTTPS URL,
// accepting both armored and binary serializations.
func LoadKeyring(ctx context.Context, source string) (openpgp.EntityList, error) {
	if len(source) == 0 {
		return openpgp.EntityList{}, nil
	}

	var keyringData []byte

	// If the source is a URL, download it.
	if strings.Contains(source, "://") {
		slog.Debug("Downloading keyring", slog.String("url", source))

		keyURL, err := url.Parse(source)
		if err != nil {
			return nil, err
		}

		if keyURL.Scheme != "https" {
			return nil, errors.New("keyring URL must be HTTPS")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, keyURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to download keyring: %w", errdefs.ErrNetwork, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &errdefs.HTTPStatusError{URL: source, StatusCode: resp.StatusCode, Status: resp.Status}
		}

		keyringData, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
	} else {
		slog.Debug("Reading keyring file", slog.String("path", source))

		var err error
		keyringData, err = os.ReadFile(source)
		if err != nil {
			return nil, err
		}
	}

	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(keyringData))
	if err != nil {
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(keyringData))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: malformed keyring: %w", errdefs.ErrSignature, err)
	}

	return keyring, nil
}

// BundledKeyringPath locates the certificate set shipped for the given
// system, looking beside the executable first and then in the shared data
// directory. Returns an empty path for systems that do not verify
// signatures.
func BundledKeyringPath(system string) (string, error) {
	name, ok := bundledKeyrings[system]
	if !ok {
		return "", nil
	}

	var searched []string

	if exe, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(exe), "keys", name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		searched = append(searched, path)
	}

	path := filepath.Join("/usr/share/repro-env/keys", name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	searched = append(searched, path)

	return "", fmt.Errorf("no bundled keyring for %s (searched %s)",
		system, strings.Join(searched, ", "))
}

// VerifyDetached checks a detached signature over the message stream
// against the certificate set. The signature may be armored or binary.
// Validity requires a signing capable key, a byte-exact match over the
// message, and an expiration/revocation check against the system clock.
func VerifyDetached(keyring openpgp.EntityList, message io.Reader, signature []byte) error {
	if len(keyring) == 0 {
		return fmt.Errorf("%w: empty certificate set", errdefs.ErrSignature)
	}

	if bytes.HasPrefix(bytes.TrimLeft(signature, "\r\n"), []byte("-----BEGIN PGP")) {
		if _, err := openpgp.CheckArmoredDetachedSignature(
			keyring, message, bytes.NewReader(signature), nil); err != nil {
			return fmt.Errorf("%w: %w", errdefs.ErrSignature, err)
		}

		return nil
	}

	if _, err := openpgp.CheckDetachedSignature(
		keyring, message, bytes.NewReader(signature), nil); err != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrSignature, err)
	}

	return nil
}

// VerifyDetachedFile checks a detached signature over the content of a
// file, typically a cached package.
func VerifyDetachedFile(keyring openpgp.EntityList, path string, signature []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return VerifyDetached(keyring, f, signature)
}
