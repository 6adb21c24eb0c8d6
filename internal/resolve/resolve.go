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

// Package resolve computes the dependency closure of a set of requested
// packages over a package database. The walk is a breadth-first traversal;
// alternative dependencies take the first satisfiable option and virtual
// packages resolve through their providers.
package resolve

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/dpeckett/repro-env/internal/database"
	"github.com/dpeckett/repro-env/internal/errdefs"
)

// Resolve returns the dependency-closed set of packages reachable from the
// requested names, sorted by name. Every requested name must resolve;
// every Depends relation of every selected package must be satisfied by
// the result set.
func Resolve(packageDB *database.PackageDB, requested []string) ([]database.Package, error) {
	selected := map[string]database.Package{}

	var queue []database.Package
	for _, name := range requested {
		pkg, err := resolveName(packageDB, selected, name)
		if err != nil {
			return nil, fmt.Errorf("failed to locate requested package %s: %w", name, err)
		}

		if _, ok := selected[pkg.Name]; !ok {
			selected[pkg.Name] = pkg
			queue = append(queue, pkg)
		}
	}

	slog.Debug("Building dependency tree")

	for len(queue) > 0 {
		pkg := queue[0]
		queue = queue[1:]

		for _, alternatives := range pkg.Depends {
			depPkg, err := resolveAlternatives(packageDB, selected, alternatives)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve dependency of %s: %w", pkg.Name, err)
			}

			if _, ok := selected[depPkg.Name]; !ok {
				selected[depPkg.Name] = depPkg
				queue = append(queue, depPkg)
			}
		}
	}

	packageList := make([]database.Package, 0, len(selected))
	for _, pkg := range selected {
		packageList = append(packageList, pkg)
	}

	slices.SortFunc(packageList, func(a, b database.Package) int {
		return a.Compare(b)
	})

	return packageList, nil
}

// resolveAlternatives picks the first satisfiable option of a dependency
// relation.
func resolveAlternatives(packageDB *database.PackageDB, selected map[string]database.Package, alternatives []string) (database.Package, error) {
	// Is an alternative already part of the selection?
	for _, name := range alternatives {
		if pkg, ok := selected[name]; ok {
			return pkg, nil
		}
	}

	var errs []error
	for _, name := range alternatives {
		pkg, err := resolveName(packageDB, selected, name)
		if err == nil {
			return pkg, nil
		}

		slog.Debug("Alternative did not resolve",
			slog.String("name", name), slog.Any("error", err))

		errs = append(errs, err)
	}

	if len(alternatives) == 1 {
		return database.Package{}, errs[0]
	}

	return database.Package{}, fmt.Errorf("%w: no alternative of %v is satisfiable",
		errdefs.ErrResolve, alternatives)
}

// resolveName resolves a single package name, following virtual packages
// through their providers. A concrete package with a matching name always
// wins; a virtual name with a single provider resolves to it; a virtual
// name with multiple providers resolves to an already selected provider or
// fails as ambiguous.
func resolveName(packageDB *database.PackageDB, selected map[string]database.Package, name string) (database.Package, error) {
	packageList := packageDB.Get(name)
	if len(packageList) == 0 {
		return database.Package{}, fmt.Errorf("%w: unknown package: %s", errdefs.ErrResolve, name)
	}

	// Concrete packages sort ahead of virtual entries.
	if pkg := packageList[0]; !pkg.IsVirtual {
		return pkg, nil
	}

	virtualPkg := packageList[0]
	if len(virtualPkg.Providers) == 1 {
		return virtualPkg.Providers[0], nil
	}

	// Has a provider already been selected?
	for _, provider := range virtualPkg.Providers {
		if existing, ok := selected[provider.Name]; ok && existing.ID() == provider.ID() {
			return provider, nil
		}
	}

	providerNames := make([]string, 0, len(virtualPkg.Providers))
	for _, provider := range virtualPkg.Providers {
		providerNames = append(providerNames, provider.Name)
	}

	return database.Package{}, &errdefs.AmbiguousProviderError{Name: name, Providers: providerNames}
}
