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

package alpine_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dpeckett/repro-env/internal/database"
	"github.com/dpeckett/repro-env/internal/distro/alpine"
	"github.com/dpeckett/repro-env/internal/resolve"
	"github.com/dpeckett/repro-env/internal/testutil"
)

const baseURL = "https://dl-cdn.alpinelinux.org/alpine/v3.20/main/x86_64"

const apkIndex = `C:Q1apkZf2Ll3ypUdBcYvfWrM5RnK9Y=
P:busybox
V:1.36.1-r29
A:x86_64
D:so:libc.musl-x86_64.so.1
p:/bin/sh cmd:busybox=1.36.1-r29

C:Q1eGinN1rsfGvQzk1UdbpEkKVcwqE=
P:musl
V:1.2.5-r0
A:x86_64
p:so:libc.musl-x86_64.so.1=1

C:Q14PLANBbcdXDo9sPSwpsMGhvpGmg=
P:zlib
V:1.3.1-r1
A:x86_64
D:so:libc.musl-x86_64.so.1 !zlib-ng
`

func buildIndex(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "APKINDEX",
		Mode: 0o644,
		Size: int64(len(apkIndex)),
	}))
	_, err := tw.Write([]byte(apkIndex))
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	return buf.Bytes()
}

func TestParseIndex(t *testing.T) {
	testutil.SetupGlobals(t)

	packageList, err := alpine.ParseIndex(bytes.NewReader(buildIndex(t)), baseURL)
	require.NoError(t, err)
	require.Len(t, packageList, 3)

	byName := map[string]database.Package{}
	for _, pkg := range packageList {
		byName[pkg.Name] = pkg
	}

	busybox := byName["busybox"]
	require.Equal(t, "1.36.1-r29", busybox.Version)
	require.Equal(t, baseURL+"/busybox-1.36.1-r29.apk", busybox.URL)
	require.Equal(t, [][]string{{"so:libc.musl-x86_64.so.1"}}, busybox.Depends)
	require.Equal(t, []string{"/bin/sh", "cmd:busybox"}, busybox.Provides)

	// Conflict markers are dropped from the dependency list.
	require.Equal(t, [][]string{{"so:libc.musl-x86_64.so.1"}}, byName["zlib"].Depends)
}

func TestResolveClosure(t *testing.T) {
	testutil.SetupGlobals(t)

	packageList, err := alpine.ParseIndex(bytes.NewReader(buildIndex(t)), baseURL)
	require.NoError(t, err)

	packageDB := database.NewPackageDB()
	packageDB.AddAll(packageList)

	// busybox depends on the so: provides of musl.
	selected, err := resolve.Resolve(packageDB, []string{"busybox"})
	require.NoError(t, err)

	var selectedNames []string
	for _, pkg := range selected {
		selectedNames = append(selectedNames, pkg.Name)
	}

	require.Equal(t, []string{"busybox", "musl"}, selectedNames)
}

func TestParseRepositories(t *testing.T) {
	testutil.SetupGlobals(t)

	repositories := strings.Join([]string{
		"https://dl-cdn.alpinelinux.org/alpine/v3.20/main",
		"https://dl-cdn.alpinelinux.org/alpine/v3.20/community",
		"",
		"# testing is disabled",
		"@testing https://dl-cdn.alpinelinux.org/alpine/edge/testing",
	}, "\n")

	repos := alpine.ParseRepositories(strings.NewReader(repositories))
	require.Equal(t, []string{
		"https://dl-cdn.alpinelinux.org/alpine/v3.20/main",
		"https://dl-cdn.alpinelinux.org/alpine/v3.20/community",
	}, repos)
}
