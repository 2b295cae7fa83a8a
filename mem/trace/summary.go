package trace

import (
	"context"

	"github.com/sarchlab/vmcore/datarecording"
)

// A Summary counts the recorded events of a trace database.
type Summary struct {
	// Faults counts the faults by outcome.
	Faults map[string]int
	// Frames counts the frame events (load, evict, release).
	Frames map[string]int
	// Lifecycle counts stack growths, forks and teardowns.
	Lifecycle map[string]int
}

type outcomeRow struct {
	Outcome string
}

type whatRow struct {
	What string
}

// Summarize reads back the tables that a DBRecorder wrote.
func Summarize(
	ctx context.Context,
	reader datarecording.DataReader,
) (Summary, error) {
	reader.MapTable(FaultTable, outcomeRow{})
	reader.MapTable(FrameTable, whatRow{})
	reader.MapTable(LifecycleTable, whatRow{})

	s := Summary{
		Faults:    make(map[string]int),
		Frames:    make(map[string]int),
		Lifecycle: make(map[string]int),
	}

	rows, _, err := reader.Query(ctx, FaultTable, datarecording.QueryParams{})
	if err != nil {
		return s, err
	}

	for _, row := range rows {
		s.Faults[row.(*outcomeRow).Outcome]++
	}

	for table, counts := range map[string]map[string]int{
		FrameTable:     s.Frames,
		LifecycleTable: s.Lifecycle,
	} {
		rows, _, err := reader.Query(ctx, table, datarecording.QueryParams{})
		if err != nil {
			return s, err
		}

		for _, row := range rows {
			counts[row.(*whatRow).What]++
		}
	}

	return s, nil
}
