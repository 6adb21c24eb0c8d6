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

// Package database holds the in-memory package index built from repository
// metadata. Virtual packages are materialized from provides entries and
// track their providers, so the resolver can walk them uniformly across
// package systems.
package database

import (
	"strings"
	"sync"

	"github.com/google/btree"
)

// Package is one package as described by a repository index.
type Package struct {
	Name     string
	Version  string
	Filename string
	URL      string
	SHA256   string
	// Signature is a base64 encoded detached OpenPGP signature, where the
	// repository publishes one.
	Signature string
	// Depends lists dependency relations; each relation is a list of
	// alternative package names, tried in order.
	Depends [][]string
	// Provides lists the virtual names this package satisfies.
	Provides []string
	// IsVirtual marks an entry materialized from a provides relation.
	IsVirtual bool
	// Providers lists the concrete packages satisfying a virtual entry.
	Providers []Package
}

// ID returns a unique identifier for the package.
func (p Package) ID() string {
	return p.Name + "=" + p.Version
}

// Compare orders packages by (name, virtual, version).
func (p Package) Compare(other Package) int {
	if c := strings.Compare(p.Name, other.Name); c != 0 {
		return c
	}
	if p.IsVirtual != other.IsVirtual {
		if p.IsVirtual {
			return 1
		}
		return -1
	}
	return strings.Compare(p.Version, other.Version)
}

// Less implements btree.Item.
func (p Package) Less(than btree.Item) bool {
	return p.Compare(than.(Package)) < 0
}

// PackageDB is a package database.
type PackageDB struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// NewPackageDB creates a new package database.
func NewPackageDB() *PackageDB {
	return &PackageDB{
		tree: btree.New(2),
	}
}

// Len returns the total number of concrete packages in the database.
func (db *PackageDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var count int
	db.tree.Ascend(func(item btree.Item) bool {
		if !item.(Package).IsVirtual {
			count++
		}

		return true
	})

	return count
}

// Add adds a package to the database.
func (db *PackageDB) Add(pkg Package) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.addPackage(pkg)
}

// AddAll adds multiple packages to the database.
func (db *PackageDB) AddAll(packageList []Package) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, pkg := range packageList {
		db.addPackage(pkg)
	}
}

func (db *PackageDB) addPackage(pkg Package) {
	db.tree.ReplaceOrInsert(pkg)

	// Does this package provide any virtual packages?
	for _, name := range pkg.Provides {
		virtualPkg := Package{
			Name:      name,
			IsVirtual: true,
		}

		// Do we already have a virtual package?
		if existing := db.tree.Get(virtualPkg); existing != nil {
			if existing := existing.(Package); existing.IsVirtual {
				virtualPkg = existing
			}
		}

		// Make sure the package is not already in the providers list.
		var found bool
		for _, provider := range virtualPkg.Providers {
			if provider.ID() == pkg.ID() {
				found = true
				break
			}
		}

		if !found {
			virtualPkg.Providers = append(virtualPkg.Providers, pkg)
			db.tree.ReplaceOrInsert(virtualPkg)
		}
	}
}

// Get returns all entries with the given name, concrete packages first.
func (db *PackageDB) Get(name string) []Package {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var packageList []Package
	db.tree.AscendGreaterOrEqual(Package{Name: name}, func(item btree.Item) bool {
		pkg := item.(Package)
		if pkg.Name != name {
			return false
		}

		packageList = append(packageList, pkg)
		return true
	})

	return packageList
}

// ForEach iterates over each concrete package in the database in name
// order. If the provided function returns an error, the iteration stops.
func (db *PackageDB) ForEach(fn func(pkg Package) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var err error
	db.tree.Ascend(func(item btree.Item) bool {
		pkg := item.(Package)

		if !pkg.IsVirtual {
			err = fn(pkg)
		}
		return err == nil
	})

	return err
}
