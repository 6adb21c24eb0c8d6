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

package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/dpeckett/repro-env/internal/constants"
	"github.com/dpeckett/repro-env/internal/errdefs"
)

// State tracks a build session's lifecycle.
type State int

const (
	StateInit State = iota
	StateImageReady
	StateRunning
	StateProvisioned
	StateUserCmdExit
	StateTornDown
)

// Session is a long-running build container. The invoking working directory
// is mounted at the build path; package files are staged under the package
// directory; the user command runs in the build path with forwarded stdio.
type Session struct {
	engine *Engine
	image  string
	keep   bool

	// ID is the engine-assigned container identifier.
	ID    string
	state State
}

// StartSession ensures the image is available locally, then starts a
// detached container that idles until torn down.
func (e *Engine) StartSession(ctx context.Context, image string, keep bool) (*Session, error) {
	s := &Session{engine: e, image: image, keep: keep}

	if !e.ImageExists(ctx, image) {
		if err := e.Pull(ctx, image); err != nil {
			return nil, err
		}
	}
	s.state = StateImageReady

	pwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	out, err := e.run(ctx, "run", "--detach", "--init", "--rm",
		"-v", pwd+":"+constants.BuildDir,
		"-w", constants.BuildDir,
		image, "sleep", "infinity")
	if err != nil {
		return nil, err
	}

	s.ID = strings.TrimSpace(string(out))
	if s.ID == "" {
		return nil, fmt.Errorf("%w: engine did not report a container id", errdefs.ErrContainerEngine)
	}
	s.state = StateRunning

	slog.Debug("Started container", slog.String("id", s.ID))

	return s, nil
}

// CopyInto copies a host file into the container.
func (s *Session) CopyInto(ctx context.Context, src, dst string) error {
	_, err := s.engine.run(ctx, "cp", src, s.ID+":"+dst)
	return err
}

// Exec runs a command inside the container, streaming its output to the
// invoking terminal's stderr. Used for provisioning steps.
func (s *Session) Exec(ctx context.Context, argv ...string) error {
	slog.Debug("Executing in container", slog.String("args", strings.Join(argv, " ")))

	args := append([]string{"exec", s.ID}, argv...)

	cmd := exec.CommandContext(ctx, s.engine.binary, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %w", errdefs.ErrContainerEngine, argv[0], err)
	}

	return nil
}

// MarkProvisioned records that package installation completed.
func (s *Session) MarkProvisioned() {
	s.state = StateProvisioned
}

// ExecUser runs the user command in the build path with stdio forwarded and
// the given extra environment variables (VAR=VAL). The command's exit code
// is returned; a non-zero exit surfaces as an ExitCodeError so callers can
// forward it unchanged.
func (s *Session) ExecUser(ctx context.Context, argv []string, env []string) error {
	args := []string{"exec", "--interactive", "-w", constants.BuildDir}
	for _, kv := range env {
		args = append(args, "--env", kv)
	}
	args = append(args, s.ID)
	args = append(args, argv...)

	cmd := exec.CommandContext(ctx, s.engine.binary, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	s.state = StateUserCmdExit
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			return &errdefs.ExitCodeError{Code: exitErr.ExitCode()}
		}

		return fmt.Errorf("%w: failed to run user command: %w", errdefs.ErrContainerEngine, err)
	}

	return nil
}

// Signal forwards a signal name (e.g. SIGTERM) to the container,
// best-effort.
func (s *Session) Signal(ctx context.Context, signal string) {
	if _, err := s.engine.run(ctx, "kill", "--signal", signal, s.ID); err != nil {
		slog.Debug("Failed to signal container", slog.Any("error", err))
	}
}

// Teardown destroys the container unless the session was created with keep,
// in which case the container id is reported for inspection. Teardown is
// idempotent.
func (s *Session) Teardown(ctx context.Context) error {
	if s.state == StateTornDown || s.ID == "" {
		return nil
	}

	if s.keep {
		slog.Info("Keeping container", slog.String("id", s.ID))
		s.state = StateTornDown
		return nil
	}

	_, err := s.engine.run(ctx, "rm", "--force", s.ID)
	if err != nil {
		return err
	}
	s.state = StateTornDown

	return nil
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	return s.state
}
