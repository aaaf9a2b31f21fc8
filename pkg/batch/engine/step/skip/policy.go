// Package skip decides whether a failed item may be excluded from its chunk.
package skip

import (
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SkipPolicy is stateless: the engine owns the skip count so that skips made
// by a rolled-back chunk attempt are not charged against the limit.
type SkipPolicy interface {
	// ShouldSkip reports whether err is a skippable kind.
	ShouldSkip(err error) bool
	// CanSkip reports whether one more skip fits when skipped items were already excluded.
	CanSkip(skipped int) bool
	GetSkipLimit() int
}

// NewSkipPolicy creates the default policy. A skipLimit of 0 disables skipping.
func NewSkipPolicy(skipLimit int, skippableExceptions []string) SkipPolicy {
	return &defaultSkipPolicy{skipLimit: skipLimit, skippableExceptions: skippableExceptions}
}

type defaultSkipPolicy struct {
	skipLimit           int
	skippableExceptions []string
}

func (p *defaultSkipPolicy) ShouldSkip(err error) bool {
	if err == nil || p.skipLimit == 0 {
		return false
	}
	if be, ok := exception.AsBatchError(err); ok && be.IsSkippable() {
		return true
	}
	for _, typeName := range p.skippableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

func (p *defaultSkipPolicy) CanSkip(skipped int) bool {
	return p.skipLimit > 0 && skipped < p.skipLimit
}

func (p *defaultSkipPolicy) GetSkipLimit() int {
	return p.skipLimit
}

var _ SkipPolicy = (*defaultSkipPolicy)(nil)
