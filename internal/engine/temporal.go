package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinodismyname/mcpkpi/internal/catalog"
	"github.com/vinodismyname/mcpkpi/internal/dataset"
)

// Granularity is the period width of a trend calculation.
type Granularity string

const (
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// periodKeyLayout formats a period's start date as its key.
const periodKeyLayout = "2006-01-02"

// ErrNoTimeAxis reports that the dataset has no column usable as a time
// axis. It is an expected condition for many datasets, not a defect.
var ErrNoTimeAxis = errors.New("engine: no usable time axis")

// Meta describes how a trend calculation partitioned the dataset.
type Meta struct {
	Granularity Granularity `json:"granularity"`
	DateColumn  string      `json:"date_column"`
}

// Period is one time bucket's self-contained result set.
type Period struct {
	Key      string             `json:"period"`
	Rows     int                `json:"rows"`
	Statuses map[string]*Status `json:"kpis"`
}

// TrendResult is the full output of a trend calculation, periods in
// chronological order.
type TrendResult struct {
	Meta    Meta     `json:"meta"`
	Periods []Period `json:"periods"`
}

// CalculateTrend partitions the dataset by its detected time axis and runs
// the full matching and evaluation pipeline independently on every period's
// row subset. Matchability is recomputed per period on purpose: column
// coverage and time-window eligibility can change across subsets. Periods
// are computed concurrently under a bounded fan-out; a dependency cycle
// aborts the whole calculation.
func (e *Engine) CalculateTrend(ctx context.Context, d *dataset.Dataset, defs map[string]catalog.Definition) (*TrendResult, error) {
	axis, rowTimes, ok := detectDateColumn(d)
	if !ok {
		return nil, ErrNoTimeAxis
	}

	var minT, maxT time.Time
	for _, ts := range rowTimes {
		if ts.IsZero() {
			continue
		}
		if minT.IsZero() || ts.Before(minT) {
			minT = ts
		}
		if maxT.IsZero() || ts.After(maxT) {
			maxT = ts
		}
	}
	if minT.IsZero() {
		return nil, ErrNoTimeAxis
	}
	granularity := GranularityMonthly
	if maxT.Sub(minT) < 30*24*time.Hour {
		granularity = GranularityWeekly
	}

	buckets := make(map[string][]int)
	for row, ts := range rowTimes {
		if ts.IsZero() {
			continue
		}
		key := periodStart(ts, granularity).Format(periodKeyLayout)
		buckets[key] = append(buckets[key], row)
	}
	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	periods := make([]Period, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrentPeriods)
	for i, key := range keys {
		g.Go(func() error {
			rows := buckets[key]
			statuses, err := e.Calculate(gctx, d.Subset(rows), defs)
			if err != nil {
				return err
			}
			periods[i] = Period{Key: key, Rows: len(rows), Statuses: statuses}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &TrendResult{
		Meta:    Meta{Granularity: granularity, DateColumn: axis},
		Periods: periods,
	}, nil
}

// detectDateColumn picks the time axis: first a column whose name hints at
// time semantics and whose values parse as dates for more than half the
// non-blank rows, then any column clearing the same parse bar. The returned
// slice is row-aligned, zero time for unparseable cells.
func detectDateColumn(d *dataset.Dataset) (string, []time.Time, bool) {
	hinted := make([]string, 0, len(d.Columns()))
	rest := make([]string, 0, len(d.Columns()))
	for _, col := range d.Columns() {
		if nameHintsTime(col) {
			hinted = append(hinted, col)
		} else {
			rest = append(rest, col)
		}
	}
	for _, col := range append(hinted, rest...) {
		_, parsed, total := d.Times(col)
		if total == 0 || parsed*2 <= total {
			continue
		}
		raw, _ := d.Strings(col)
		rowTimes := make([]time.Time, len(raw))
		for i, s := range raw {
			if ts, ok := dataset.ParseTime(s); ok {
				rowTimes[i] = ts
			}
		}
		return col, rowTimes, true
	}
	return "", nil, false
}

var timeNameHints = []string{"date", "time", "day", "week", "month", "period", "timestamp"}

func nameHintsTime(col string) bool {
	lower := strings.ToLower(col)
	for _, hint := range timeNameHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// periodStart truncates a timestamp to the start of its period, Monday for
// weeks and the first of the month for months.
func periodStart(t time.Time, g Granularity) time.Time {
	if g == GranularityWeekly {
		offset := (int(t.Weekday()) + 6) % 7
		t = t.AddDate(0, 0, -offset)
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
