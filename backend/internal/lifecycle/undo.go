package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// undoOp is one recorded inverse operation: re-add provenance, or re-create
// a just-deleted element from its pre-image.
type undoOp struct {
	desc  string
	apply func(context.Context) error
}

// undoLog accumulates inverse operations ahead of each mutating sub-step of
// a deletion. On failure it replays in reverse order, compensating for the
// store's lack of a multi-statement transaction across network round trips.
// The log lives only in memory: if the process dies mid-delete the log dies
// with it, and the orphan reaper repairs the residue on its next sweep.
type undoLog struct {
	ops    []undoOp
	logger *zap.Logger
}

func newUndoLog(logger *zap.Logger) *undoLog {
	return &undoLog{logger: logger}
}

func (l *undoLog) push(desc string, apply func(context.Context) error) {
	l.ops = append(l.ops, undoOp{desc: desc, apply: apply})
}

func (l *undoLog) len() int {
	return len(l.ops)
}

// replay applies the recorded inverses newest-first. A failing replay step is
// reported but does not stop the rest: every recovered element reduces what
// the reaper has to clean up later. Replay runs detached from the caller's
// cancellation so a cancelled request cannot abort its own rollback.
func (l *undoLog) replay(ctx context.Context) []string {
	ctx = context.WithoutCancel(ctx)

	var failures []string
	for i := len(l.ops) - 1; i >= 0; i-- {
		op := l.ops[i]
		if err := op.apply(ctx); err != nil {
			l.logger.Error("Undo step failed",
				zap.String("step", op.desc),
				zap.Error(err),
			)
			failures = append(failures, fmt.Sprintf("undo %s: %v", op.desc, err))
		}
	}
	return failures
}
