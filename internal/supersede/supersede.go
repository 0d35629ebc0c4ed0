// Package supersede implements the rolling-builds check: a pull request
// build aborts early when a newer build for the same pull request has
// already been queued, so stale commits stop burning matrix minutes.
package supersede

import (
	"context"
	"errors"
	"fmt"

	"github.com/rdmontgomery/exa/pkg/core"
)

// ErrSuperseded is returned when a newer build exists for the same pull
// request. Callers treat it as a cancellation, not a failure.
var ErrSuperseded = errors.New("there are newer queued builds for this pull request")

// historyWindow is how many recent builds the check inspects.
const historyWindow = 50

// HistoryLister is the slice of the history client the check needs.
type HistoryLister interface {
	History(ctx context.Context, account, project string, records int) ([]*core.Build, error)
}

// Check reports whether the given build has been superseded. Builds not
// triggered by a pull request pass trivially. The history endpoint
// returns builds newest first; the first build carrying the same pull
// request id is the authoritative one, and if that is not us, we yield.
func Check(ctx context.Context, client HistoryLister, build *core.Build) error {
	if !build.IsPullRequest() {
		return nil
	}

	builds, err := client.History(ctx, build.Account, build.Project, historyWindow)
	if err != nil {
		return fmt.Errorf("failed to query build history: %w", err)
	}

	for _, b := range builds {
		if b.PullRequest != build.PullRequest {
			continue
		}
		// Any newer same-PR build wins regardless of its status: even a
		// finished newer build means this commit is already stale.
		if b.Number > build.Number {
			return fmt.Errorf("%w: build %d supersedes build %d", ErrSuperseded, b.Number, build.Number)
		}
		return nil
	}
	return nil
}
