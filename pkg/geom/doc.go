// Package geom defines the small value types shared by the layout and
// carving packages: vectors, card-blank extents and face selection.
package geom
