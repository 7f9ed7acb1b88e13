package probe

import (
	"context"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Checker performs one reachability check for a target. Implementations never
// return an error: failures are encoded as a DOWN result with a Detail.
type Checker interface {
	Check(ctx context.Context, target domain.Target) domain.CheckResult
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, target domain.Target) domain.CheckResult

func (f CheckerFunc) Check(ctx context.Context, target domain.Target) domain.CheckResult {
	return f(ctx, target)
}
