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

package container_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dpeckett/repro-env/internal/container"
	"github.com/dpeckett/repro-env/internal/errdefs"
	"github.com/dpeckett/repro-env/internal/testutil"
)

func TestEngine(t *testing.T) {
	testutil.SetupGlobals(t)

	ctx := context.Background()

	t.Run("Missing", func(t *testing.T) {
		t.Setenv("PATH", t.TempDir())

		_, err := container.NewEngine("podman")
		require.ErrorIs(t, err, errdefs.ErrContainerEngine)
	})

	t.Run("ImageDigest", func(t *testing.T) {
		testutil.SetupFakeEngine(t)

		engine, err := container.NewEngine("podman")
		require.NoError(t, err)

		digest, err := engine.ImageDigest(ctx, "docker.io/library/debian:bookworm")
		require.NoError(t, err)
		require.Equal(t, testutil.FakeEngineDigest, digest)
	})

	t.Run("ReadImageFile", func(t *testing.T) {
		testutil.SetupFakeEngine(t)

		rootfs := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(rootfs, "etc/apk"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(rootfs, "etc/apk/repositories"),
			[]byte("https://dl-cdn.alpinelinux.org/alpine/v3.20/main\n"), 0o644))
		t.Setenv("FAKE_ENGINE_ROOTFS", rootfs)

		engine, err := container.NewEngine("podman")
		require.NoError(t, err)

		content, err := engine.ReadImageFile(ctx, "docker.io/library/alpine:3.20", "/etc/apk/repositories")
		require.NoError(t, err)
		require.Equal(t, "https://dl-cdn.alpinelinux.org/alpine/v3.20/main\n", string(content))
	})
}

func TestSession(t *testing.T) {
	testutil.SetupGlobals(t)

	ctx := context.Background()

	t.Run("Lifecycle", func(t *testing.T) {
		logPath := testutil.SetupFakeEngine(t)
		t.Setenv("FAKE_ENGINE_IMAGE_PRESENT", "1")

		engine, err := container.NewEngine("podman")
		require.NoError(t, err)

		session, err := engine.StartSession(ctx, "docker.io/library/debian@sha256:8252703e1184cdf873e8a613f798d7ff17a36c37b0dbed5440e1e04c6b1bdf8e", false)
		require.NoError(t, err)
		require.Equal(t, "9f86d081884c7d65", session.ID)
		require.Equal(t, container.StateRunning, session.State())

		require.NoError(t, session.CopyInto(ctx, "/tmp/some.deb", "/pkgs/some.deb"))
		require.NoError(t, session.Exec(ctx, "apt-get", "install", "-y", "/pkgs/some.deb"))
		session.MarkProvisioned()
		require.Equal(t, container.StateProvisioned, session.State())

		require.NoError(t, session.ExecUser(ctx, []string{"/bin/true"}, nil))
		require.Equal(t, container.StateUserCmdExit, session.State())

		require.NoError(t, session.Teardown(ctx))
		require.Equal(t, container.StateTornDown, session.State())

		// Teardown is idempotent.
		require.NoError(t, session.Teardown(ctx))

		all := strings.Join(testutil.EngineInvocations(t, logPath), "\n")
		require.Contains(t, all, "run --detach --init --rm")
		require.Contains(t, all, "rm --force 9f86d081884c7d65")
	})

	t.Run("PullsWhenAbsent", func(t *testing.T) {
		logPath := testutil.SetupFakeEngine(t)

		engine, err := container.NewEngine("podman")
		require.NoError(t, err)

		_, err = engine.StartSession(ctx, "docker.io/library/alpine:3.20", false)
		require.NoError(t, err)

		all := strings.Join(testutil.EngineInvocations(t, logPath), "\n")
		require.Contains(t, all, "pull docker.io/library/alpine:3.20")
	})

	t.Run("UserCommandExitCode", func(t *testing.T) {
		testutil.SetupFakeEngine(t)
		t.Setenv("FAKE_ENGINE_IMAGE_PRESENT", "1")
		t.Setenv("FAKE_ENGINE_EXIT", "3")

		engine, err := container.NewEngine("podman")
		require.NoError(t, err)

		session, err := engine.StartSession(ctx, "docker.io/library/debian:bookworm", false)
		require.NoError(t, err)

		err = session.ExecUser(ctx, []string{"/bin/false"}, nil)

		var exitErr *errdefs.ExitCodeError
		require.ErrorAs(t, err, &exitErr)
		require.Equal(t, 3, exitErr.Code)
	})

	t.Run("Keep", func(t *testing.T) {
		logPath := testutil.SetupFakeEngine(t)
		t.Setenv("FAKE_ENGINE_IMAGE_PRESENT", "1")

		engine, err := container.NewEngine("podman")
		require.NoError(t, err)

		session, err := engine.StartSession(ctx, "docker.io/library/debian:bookworm", true)
		require.NoError(t, err)

		require.NoError(t, session.Teardown(ctx))

		all := strings.Join(testutil.EngineInvocations(t, logPath), "\n")
		require.NotContains(t, all, "rm --force")
	})
}
