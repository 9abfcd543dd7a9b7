package lcu

import (
	"context"
	"errors"
	"slices"

	"github.com/lcudriver/lcu-driver/pkg/process"
)

// Selector picks one process when single-mode discovery finds several.
// It must return one of the candidates.
type Selector interface {
	Select(ctx context.Context, candidates []process.Credentials) (process.Credentials, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context, candidates []process.Credentials) (process.Credentials, error)

func (f SelectorFunc) Select(ctx context.Context, candidates []process.Credentials) (process.Credentials, error) {
	return f(ctx, candidates)
}

// LowestPID picks the candidate with the smallest pid, so repeated scans
// over the same processes pick the same one.
var LowestPID Selector = SelectorFunc(func(_ context.Context, candidates []process.Credentials) (process.Credentials, error) {
	if len(candidates) == 0 {
		return process.Credentials{}, errors.New("no candidates")
	}
	return slices.MinFunc(candidates, func(a, b process.Credentials) int { return a.PID - b.PID }), nil
})
