package aggregate

import (
	"fmt"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
	"github.com/prinquiel/messaging-analytics-etl/internal/spill"
)

// Run performs the single-pass aggregation of the raw spill into the
// transformed-JSON spill file (§4.5). It gates on a non-empty
// user_statistics output, per §8 scenario S1.
func (a *Aggregator) Run(ctx domain.Context, runID, rawPath string, heartbeat domain.HeartbeatFunc) (domain.TransformResult, error) {
	r, err := spill.NewReader(rawPath)
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("op=aggregate.Aggregator.Run: %w", err)
	}
	defer r.Close()

	s := newState()
	var rowsSinceBeat int

	err = r.Each(func(rec domain.SpillRecord) error {
		if err := s.dispatch(rec); err != nil {
			return err
		}
		s.rowCount++
		rowsSinceBeat++
		if rowsSinceBeat >= a.heartbeatEveryRows {
			heartbeat(ctx, fmt.Sprintf("rows=%d", s.rowCount))
			rowsSinceBeat = 0
		}
		return nil
	})
	if err != nil {
		return domain.TransformResult{}, fmt.Errorf("op=aggregate.Aggregator.Run: %w", err)
	}

	output := s.finalize(runID)
	if len(output.UserStatistics) == 0 {
		return domain.TransformResult{}, domain.NewNonRetryable(domain.ErrEmptyOutput)
	}

	path := spill.TransformedPath(spillDirOf(rawPath), runID)
	if err := writeTransformed(path, output); err != nil {
		return domain.TransformResult{}, fmt.Errorf("op=aggregate.Aggregator.Run: %w", err)
	}

	return domain.TransformResult{TransformedPath: path, RowCount: s.rowCount}, nil
}

var _ domain.Transformer = (*Aggregator)(nil)
