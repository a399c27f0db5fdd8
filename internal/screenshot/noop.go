package screenshot

import (
	"context"

	"github.com/sitemark/sitemark/internal/bookmark"
)

// NoOp is a screenshot provider that never captures. Useful for
// dry-run deployments where bookmarks simply go without an image when
// the page has none.
type NoOp struct{}

// Capture always returns nil.
func (NoOp) Capture(_ context.Context, _ string) *bookmark.Screenshot {
	return nil
}

// IsTransient always returns false.
func (NoOp) IsTransient(_ string) bool {
	return false
}

// Release is a no-op.
func (NoOp) Release(_ context.Context, _ string) {}
