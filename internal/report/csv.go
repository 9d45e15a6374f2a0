package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sweeney/loopbench/internal/logic"
)

var csvHeader = []string{
	"cycle_id", "mode", "stage", "offset_ns",
	"processing_ns", "lock_wait_ns", "transfer_ns", "total_ns",
	"deadline_ns", "deadline_met", "lateness_ns", "jitter_ns", "overrun",
}

// WriteCSV writes one row per cycle, durations in nanoseconds.
func WriteCSV(w io.Writer, cycles []logic.CycleResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	ns := func(d time.Duration) string { return strconv.FormatInt(int64(d), 10) }
	for _, c := range cycles {
		row := []string{
			strconv.FormatUint(c.CycleID, 10), c.Mode, c.Stage(), ns(c.Offset),
			ns(c.Processing), ns(c.LockWait), ns(c.Transfer), ns(c.Total),
			ns(c.Deadline), strconv.FormatBool(c.DeadlineMet), ns(c.Lateness), ns(c.Jitter),
			strconv.FormatBool(c.Overrun),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses what WriteCSV wrote. Generated timestamps are not stored,
// so only Offset is restored.
func ReadCSV(r io.Reader) ([]logic.CycleResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	out := make([]logic.CycleResult, 0, len(rows)-1)
	for i, row := range rows[1:] {
		c, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", i+2, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseRow(row []string) (logic.CycleResult, error) {
	var (
		c   logic.CycleResult
		err error
	)
	field := func(i int) time.Duration {
		if err != nil {
			return 0
		}
		var n int64
		n, err = strconv.ParseInt(row[i], 10, 64)
		return time.Duration(n)
	}
	flag := func(i int) bool {
		if err != nil {
			return false
		}
		var b bool
		b, err = strconv.ParseBool(row[i])
		return b
	}

	if c.CycleID, err = strconv.ParseUint(row[0], 10, 64); err != nil {
		return c, err
	}
	c.Mode = row[1]
	if row[2] != "sensor" {
		k, kerr := logic.ParseKind(row[2])
		if kerr != nil {
			return c, kerr
		}
		c.Actuator = logic.KindPtr(k)
	}
	c.Offset = field(3)
	c.Processing = field(4)
	c.LockWait = field(5)
	c.Transfer = field(6)
	c.Total = field(7)
	c.Deadline = field(8)
	c.DeadlineMet = flag(9)
	c.Lateness = field(10)
	c.Jitter = field(11)
	c.Overrun = flag(12)
	return c, err
}
