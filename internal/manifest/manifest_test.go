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

package manifest_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dpeckett/repro-env/internal/errdefs"
	"github.com/dpeckett/repro-env/internal/manifest"
	"github.com/dpeckett/repro-env/internal/testutil"
)

func TestFromTOML(t *testing.T) {
	testutil.SetupGlobals(t)

	t.Run("Full", func(t *testing.T) {
		m, err := manifest.FromTOML(strings.NewReader(`[container]
image = "docker.io/library/archlinux"

[packages]
system = "archlinux"
dependencies = ["rust-musl"]
`))
		require.NoError(t, err)
		require.Equal(t, "docker.io/library/archlinux", m.Container.Image)
		require.Equal(t, "archlinux", m.Packages.System)
		require.Equal(t, []string{"rust-musl"}, m.Packages.Dependencies)
	})

	t.Run("ImageOnly", func(t *testing.T) {
		m, err := manifest.FromTOML(strings.NewReader(`[container]
image = "debian:bookworm"
`))
		require.NoError(t, err)
		require.Equal(t, "debian:bookworm", m.Container.Image)
		require.Nil(t, m.Packages)
	})

	t.Run("MissingImage", func(t *testing.T) {
		_, err := manifest.FromTOML(strings.NewReader(`[container]
`))
		require.ErrorIs(t, err, errdefs.ErrParse)
	})

	t.Run("DigestedImage", func(t *testing.T) {
		_, err := manifest.FromTOML(strings.NewReader(`[container]
image = "debian@sha256:b37bc259c67b4c2a145672a6173ba0cbf83b11c87d0b8101de2de3a88776d9d0"
`))
		require.ErrorIs(t, err, errdefs.ErrParse)
	})

	t.Run("UnknownKey", func(t *testing.T) {
		_, err := manifest.FromTOML(strings.NewReader(`[container]
image = "debian:bookworm"
entrypoint = "/bin/sh"
`))
		require.ErrorIs(t, err, errdefs.ErrParse)
	})

	t.Run("UnsupportedSystem", func(t *testing.T) {
		_, err := manifest.FromTOML(strings.NewReader(`[container]
image = "fedora:40"

[packages]
system = "fedora"
dependencies = ["gcc"]
`))
		require.ErrorIs(t, err, errdefs.ErrParse)
	})
}
