// Package tables registers the import type definitions with the core
// registry. Import this package for its side effects.
package tables

// Each file registers its definition from init(). Suppliers are listed
// before inventory in the UI because inventory rows resolve their
// supplier by name.
