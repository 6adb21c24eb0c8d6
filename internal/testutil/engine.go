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

package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FakeEngineDigest is the digest the scripted engine reports for every
// image.
const FakeEngineDigest = "sha256:8252703e1184cdf873e8a613f798d7ff17a36c37b0dbed5440e1e04c6b1bdf8e"

// SetupFakeEngine installs a scripted podman-compatible binary on PATH and
// returns the path of its invocation log. Behavior is steered through
// environment variables: FAKE_ENGINE_IMAGE_PRESENT makes `image exists`
// succeed, FAKE_ENGINE_ROOTFS backs `run --rm <image> cat`, and
// FAKE_ENGINE_EXIT sets the exit code of the user command's
// `exec --interactive`; provisioning execs always succeed.
func SetupFakeEngine(t *testing.T) string {
	t.Helper()

	binDir := t.TempDir()
	logPath := filepath.Join(binDir, "invocations.log")

	script := `#!/bin/sh
echo "$*" >> "` + logPath + `"
cmd="$1"; shift
case "$cmd" in
pull)
	exit 0
	;;
image)
	sub="$1"; shift
	case "$sub" in
	exists)
		[ -n "$FAKE_ENGINE_IMAGE_PRESENT" ]
		;;
	inspect)
		echo "` + FakeEngineDigest + `"
		;;
	esac
	;;
run)
	if [ "$1" = "--rm" ]; then
		cat "$FAKE_ENGINE_ROOTFS$4"
	else
		echo 9f86d081884c7d65
	fi
	;;
exec)
	if [ "$1" = "--interactive" ]; then
		exit "${FAKE_ENGINE_EXIT:-0}"
	fi
	exit 0
	;;
cp|kill|rm)
	exit 0
	;;
*)
	echo "unexpected subcommand: $cmd" >&2
	exit 2
	;;
esac
`

	if err := os.WriteFile(filepath.Join(binDir, "podman"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	return logPath
}

// EngineInvocations returns the lines of the scripted engine's invocation
// log.
func EngineInvocations(t *testing.T, logPath string) []string {
	t.Helper()

	content, err := os.ReadFile(logPath)
	if err != nil {
		return nil
	}

	return strings.Split(strings.TrimSpace(string(content)), "\n")
}
