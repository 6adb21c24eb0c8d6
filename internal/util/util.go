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

package util

import (
	"log/slog"

	"github.com/urfave/cli/v2"
)

// LevelFlag is a cli.Generic compatible wrapper around slog.Level.
type LevelFlag slog.Level

// FromSlogLevel converts a slog.Level to a LevelFlag.
func FromSlogLevel(l slog.Level) *LevelFlag {
	f := LevelFlag(l)
	return &f
}

func (f *LevelFlag) Set(value string) error {
	return (*slog.Level)(f).UnmarshalText([]byte(value))
}

func (f *LevelFlag) String() string {
	return (*slog.Level)(f).String()
}

// BeforeAll runs multiple cli.BeforeFuncs in order, stopping at the first
// error.
func BeforeAll(fns ...cli.BeforeFunc) cli.BeforeFunc {
	return func(c *cli.Context) error {
		for _, fn := range fns {
			if err := fn(c); err != nil {
				return err
			}
		}

		return nil
	}
}
