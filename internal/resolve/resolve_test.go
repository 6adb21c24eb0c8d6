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

package resolve_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dpeckett/repro-env/internal/database"
	"github.com/dpeckett/repro-env/internal/errdefs"
	"github.com/dpeckett/repro-env/internal/resolve"
	"github.com/dpeckett/repro-env/internal/testutil"
)

func names(packageList []database.Package) []string {
	var out []string
	for _, pkg := range packageList {
		out = append(out, pkg.Name)
	}
	return out
}

func TestResolve(t *testing.T) {
	testutil.SetupGlobals(t)

	t.Run("TransitiveClosure", func(t *testing.T) {
		packageDB := database.NewPackageDB()
		packageDB.AddAll([]database.Package{
			{Name: "rust-musl", Version: "1.76.0-1", Depends: [][]string{{"rust"}}},
			{Name: "rust", Version: "1.76.0-1", Depends: [][]string{{"gcc-libs"}, {"curl"}}},
			{Name: "gcc-libs", Version: "13.2.1-5"},
			{Name: "curl", Version: "8.6.0-1", Depends: [][]string{{"gcc-libs"}}},
		})

		selected, err := resolve.Resolve(packageDB, []string{"rust-musl"})
		require.NoError(t, err)
		require.Equal(t, []string{"curl", "gcc-libs", "rust", "rust-musl"}, names(selected))
	})

	t.Run("UnknownPackage", func(t *testing.T) {
		packageDB := database.NewPackageDB()

		_, err := resolve.Resolve(packageDB, []string{"no-such-package"})
		require.ErrorIs(t, err, errdefs.ErrResolve)
	})

	t.Run("Alternatives", func(t *testing.T) {
		// a | b resolves to a when both exist.
		packageDB := database.NewPackageDB()
		packageDB.AddAll([]database.Package{
			{Name: "top", Version: "1", Depends: [][]string{{"a", "b"}}},
			{Name: "a", Version: "1"},
			{Name: "b", Version: "1"},
		})

		selected, err := resolve.Resolve(packageDB, []string{"top"})
		require.NoError(t, err)
		require.Equal(t, []string{"a", "top"}, names(selected))

		// a | b resolves to b when a is absent.
		packageDB = database.NewPackageDB()
		packageDB.AddAll([]database.Package{
			{Name: "top", Version: "1", Depends: [][]string{{"a", "b"}}},
			{Name: "b", Version: "1"},
		})

		selected, err = resolve.Resolve(packageDB, []string{"top"})
		require.NoError(t, err)
		require.Equal(t, []string{"b", "top"}, names(selected))

		// a | b fails when neither exists.
		packageDB = database.NewPackageDB()
		packageDB.Add(database.Package{Name: "top", Version: "1", Depends: [][]string{{"a", "b"}}})

		_, err = resolve.Resolve(packageDB, []string{"top"})
		require.ErrorIs(t, err, errdefs.ErrResolve)
	})

	t.Run("VirtualSingleProvider", func(t *testing.T) {
		packageDB := database.NewPackageDB()
		packageDB.AddAll([]database.Package{
			{Name: "mta-user", Version: "1", Depends: [][]string{{"mail-transport-agent"}}},
			{Name: "postfix", Version: "3.8.4-1", Provides: []string{"mail-transport-agent"}},
		})

		selected, err := resolve.Resolve(packageDB, []string{"mta-user"})
		require.NoError(t, err)
		require.Equal(t, []string{"mta-user", "postfix"}, names(selected))
	})

	t.Run("VirtualPrefersConcreteName", func(t *testing.T) {
		packageDB := database.NewPackageDB()
		packageDB.AddAll([]database.Package{
			{Name: "user", Version: "1", Depends: [][]string{{"awk"}}},
			{Name: "awk", Version: "1.0"},
			{Name: "gawk", Version: "5.3.0", Provides: []string{"awk"}},
		})

		selected, err := resolve.Resolve(packageDB, []string{"user"})
		require.NoError(t, err)
		require.Equal(t, []string{"awk", "user"}, names(selected))
	})

	t.Run("AmbiguousProvider", func(t *testing.T) {
		packageDB := database.NewPackageDB()
		packageDB.AddAll([]database.Package{
			{Name: "user", Version: "1", Depends: [][]string{{"mail-transport-agent"}}},
			{Name: "postfix", Version: "3.8.4-1", Provides: []string{"mail-transport-agent"}},
			{Name: "exim4", Version: "4.97-3", Provides: []string{"mail-transport-agent"}},
		})

		_, err := resolve.Resolve(packageDB, []string{"user"})
		require.ErrorIs(t, err, errdefs.ErrResolve)

		var ambiguousErr *errdefs.AmbiguousProviderError
		require.ErrorAs(t, err, &ambiguousErr)
		require.ElementsMatch(t, []string{"postfix", "exim4"}, ambiguousErr.Providers)
	})

	t.Run("AmbiguityBrokenBySelection", func(t *testing.T) {
		// A provider that is already part of the selection wins over the
		// ambiguity error.
		packageDB := database.NewPackageDB()
		packageDB.AddAll([]database.Package{
			{Name: "user", Version: "1", Depends: [][]string{{"postfix"}, {"mail-transport-agent"}}},
			{Name: "postfix", Version: "3.8.4-1", Provides: []string{"mail-transport-agent"}},
			{Name: "exim4", Version: "4.97-3", Provides: []string{"mail-transport-agent"}},
		})

		selected, err := resolve.Resolve(packageDB, []string{"user"})
		require.NoError(t, err)
		require.Equal(t, []string{"postfix", "user"}, names(selected))
	})

	t.Run("DependencyCycle", func(t *testing.T) {
		packageDB := database.NewPackageDB()
		packageDB.AddAll([]database.Package{
			{Name: "a", Version: "1", Depends: [][]string{{"b"}}},
			{Name: "b", Version: "1", Depends: [][]string{{"a"}}},
		})

		selected, err := resolve.Resolve(packageDB, []string{"a"})
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b"}, names(selected))
	})
}
