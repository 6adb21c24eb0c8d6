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

// Package container drives the external rootless container engine through
// its podman-compatible CLI surface. Each subcommand is wrapped in a typed
// function returning structured errors; nothing here links against an
// engine API.
package container

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/dpeckett/repro-env/internal/errdefs"
)

// Engine is a handle to the container engine binary.
type Engine struct {
	binary string
}

// NewEngine locates the engine binary on $PATH.
func NewEngine(binary string) (*Engine, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found on PATH", errdefs.ErrContainerEngine, binary)
	}

	return &Engine{binary: path}, nil
}

// run executes an engine subcommand, capturing its output.
func (e *Engine) run(ctx context.Context, args ...string) ([]byte, error) {
	slog.Debug("Invoking container engine", slog.String("args", strings.Join(args, " ")))

	cmd := exec.CommandContext(ctx, e.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}

		return nil, fmt.Errorf("%w: %s %s: %s",
			errdefs.ErrContainerEngine, e.binary, args[0], detail)
	}

	return stdout.Bytes(), nil
}

// Pull pulls an image.
func (e *Engine) Pull(ctx context.Context, image string) error {
	slog.Info("Pulling image", slog.String("image", image))

	_, err := e.run(ctx, "pull", image)
	return err
}

// ImageExists reports whether the image is present locally.
func (e *Engine) ImageExists(ctx context.Context, image string) bool {
	_, err := e.run(ctx, "image", "exists", image)
	return err == nil
}

// ImageDigest returns the sha256 digest of a locally present image.
func (e *Engine) ImageDigest(ctx context.Context, image string) (string, error) {
	out, err := e.run(ctx, "image", "inspect", "--format", "{{.Digest}}", image)
	if err != nil {
		return "", err
	}

	digest := strings.TrimSpace(string(out))
	if !strings.HasPrefix(digest, "sha256:") {
		return "", fmt.Errorf("%w: unexpected image digest: %q", errdefs.ErrContainerEngine, digest)
	}

	return digest, nil
}

// ReadImageFile returns the content of a file inside the image, read by a
// short-lived container.
func (e *Engine) ReadImageFile(ctx context.Context, image, path string) ([]byte, error) {
	return e.run(ctx, "run", "--rm", image, "cat", path)
}
