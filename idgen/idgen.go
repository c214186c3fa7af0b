// Package idgen generates identifiers for replications and recordings.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// Generator can generate IDs.
type Generator interface {
	// Generate an ID
	Generate() string
}

// NewSequential returns a generator that emits prefix1, prefix2, ... in call
// order. IDs are reproducible as long as the calls happen in a fixed order.
func NewSequential(prefix string) Generator {
	return &sequentialGenerator{prefix: prefix}
}

// NewParallel returns a generator backed by xid. Its IDs are globally
// unique but not reproducible.
func NewParallel() Generator {
	return parallelGenerator{}
}

type sequentialGenerator struct {
	prefix string
	nextID atomic.Uint64
}

func (g *sequentialGenerator) Generate() string {
	idNumber := g.nextID.Add(1)
	return g.prefix + strconv.FormatUint(idNumber, 10)
}

type parallelGenerator struct{}

func (parallelGenerator) Generate() string {
	return xid.New().String()
}
