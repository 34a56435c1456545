package update

import (
	"context"
	"log/slog"

	"github.com/tmplsync/cli/cmd/tmplsync/cli/logging"
)

// phase is one reversible step of the update workflow. run performs the
// step; undo compensates for it during rollback. A phase whose run returned
// an error is never undone.
type phase struct {
	name string
	run  func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// runPhases executes phases strictly in order. On the first failure it
// undoes every completed phase in reverse order of completion and returns
// the originating error unchanged. Secondary errors during unwinding are
// logged, never allowed to mask the original.
func runPhases(ctx context.Context, phases []phase) error {
	var completed []phase

	for _, p := range phases {
		logging.Debug(ctx, "phase starting", slog.String("phase", p.name))
		if err := p.run(ctx); err != nil {
			logging.Error(ctx, "phase failed, rolling back",
				slog.String("phase", p.name),
				slog.String("error", err.Error()),
			)
			unwind(ctx, completed)
			return err
		}
		completed = append(completed, p)
	}

	return nil
}

// unwind undoes completed phases in reverse order of completion.
func unwind(ctx context.Context, completed []phase) {
	for i := len(completed) - 1; i >= 0; i-- {
		p := completed[i]
		if p.undo == nil {
			continue
		}
		if err := p.undo(ctx); err != nil {
			logging.Warn(ctx, "rollback step failed",
				slog.String("phase", p.name),
				slog.String("error", err.Error()),
			)
		}
	}
}
