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

package database_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dpeckett/repro-env/internal/database"
	"github.com/dpeckett/repro-env/internal/testutil"
)

func TestPackageDB(t *testing.T) {
	testutil.SetupGlobals(t)

	packageDB := database.NewPackageDB()
	packageDB.AddAll([]database.Package{
		{Name: "postfix", Version: "3.8.4-1", Provides: []string{"mail-transport-agent"}},
		{Name: "exim4", Version: "4.97-3", Provides: []string{"mail-transport-agent"}},
		{Name: "bash", Version: "5.2.21-1"},
	})

	require.Equal(t, 3, packageDB.Len())

	t.Run("Get", func(t *testing.T) {
		packageList := packageDB.Get("bash")
		require.Len(t, packageList, 1)
		require.Equal(t, "5.2.21-1", packageList[0].Version)

		require.Empty(t, packageDB.Get("no-such-package"))
	})

	t.Run("VirtualProviders", func(t *testing.T) {
		packageList := packageDB.Get("mail-transport-agent")
		require.Len(t, packageList, 1)
		require.True(t, packageList[0].IsVirtual)

		var providerNames []string
		for _, provider := range packageList[0].Providers {
			providerNames = append(providerNames, provider.Name)
		}
		require.ElementsMatch(t, []string{"postfix", "exim4"}, providerNames)
	})

	t.Run("ConcreteSortsBeforeVirtual", func(t *testing.T) {
		packageDB.Add(database.Package{Name: "awk", Version: "1.0"})
		packageDB.Add(database.Package{Name: "gawk", Version: "5.3.0", Provides: []string{"awk"}})

		packageList := packageDB.Get("awk")
		require.Len(t, packageList, 2)
		require.False(t, packageList[0].IsVirtual)
		require.True(t, packageList[1].IsVirtual)
	})

	t.Run("ForEachSkipsVirtual", func(t *testing.T) {
		var seen []string
		require.NoError(t, packageDB.ForEach(func(pkg database.Package) error {
			seen = append(seen, pkg.Name)
			return nil
		}))
		require.Equal(t, []string{"awk", "bash", "exim4", "gawk", "postfix"}, seen)
	})

	t.Run("AddIsIdempotent", func(t *testing.T) {
		before := packageDB.Len()
		packageDB.Add(database.Package{Name: "bash", Version: "5.2.21-1"})
		require.Equal(t, before, packageDB.Len())
	})
}
