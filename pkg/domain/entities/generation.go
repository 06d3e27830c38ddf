package entities

import "time"

// Generation is one version of a parent's composition: every edge sharing the
// parent, the version number and the [ValidFrom, ValidTo) window.
// A generation with no edges means the assembly had no components.
type Generation struct {
	ParentProductID ProductID
	Version         int
	ValidFrom       time.Time
	ValidTo         *time.Time // nil = current generation
}

// IsOpen reports whether this is the parent's current generation
func (g *Generation) IsOpen() bool {
	return g.ValidTo == nil
}

// Contains reports whether t falls inside the generation window
func (g *Generation) Contains(t time.Time) bool {
	return windowContains(g.ValidFrom, g.ValidTo, t)
}

// Clone returns a deep copy of the generation
func (g *Generation) Clone() *Generation {
	c := *g
	if g.ValidTo != nil {
		validTo := *g.ValidTo
		c.ValidTo = &validTo
	}
	return &c
}

// VersionSnapshot is a generation together with its active lines
type VersionSnapshot struct {
	ParentProductID ProductID
	Version         int // 0 when no BOM is defined
	ValidFrom       time.Time
	ValidTo         *time.Time
	Lines           []*CompositionEdge
	LineCount       int
}

// VersionSummary describes one generation in a version history
type VersionSummary struct {
	Version   int
	ValidFrom time.Time
	ValidTo   *time.Time
	LineCount int
}
