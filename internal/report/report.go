package report

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/getsentry/lprofile/internal/session"
	"github.com/getsentry/lprofile/internal/stats"
)

// By is the key functions are sorted by, in decreasing order except for
// ByLabel.
type By int

const (
	BySelf By = iota
	ByTotal
	ByCalls
	ByLabel
)

func ParseBy(s string) (By, error) {
	switch s {
	case "", "self":
		return BySelf, nil
	case "total":
		return ByTotal, nil
	case "calls":
		return ByCalls, nil
	case "label":
		return ByLabel, nil
	}
	return BySelf, fmt.Errorf("report: unknown sort key %q", s)
}

// Sort returns a sorted copy of entries. Ties are broken by label.
func Sort(entries []stats.Entry, by By) []stats.Entry {
	sorted := append([]stats.Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch by {
		case ByTotal:
			if a.TotalNS != b.TotalNS {
				return a.TotalNS > b.TotalNS
			}
		case ByCalls:
			if a.CallCount != b.CallCount {
				return a.CallCount > b.CallCount
			}
		case BySelf:
			if a.SelfNS != b.SelfNS {
				return a.SelfNS > b.SelfNS
			}
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.Identity < b.Identity
	})
	return sorted
}

type (
	Row struct {
		Label        string  `json:"label"`
		CallCount    uint64  `json:"call_count"`
		TotalNS      uint64  `json:"total_ns"`
		SelfNS       uint64  `json:"self_ns"`
		AvgNS        uint64  `json:"avg_ns"`
		TotalPercent float64 `json:"total_percent"`
		SelfPercent  float64 `json:"self_percent"`
	}

	Summary struct {
		ID          string              `json:"id"`
		StartedAt   time.Time           `json:"started_at"`
		TotalNS     uint64              `json:"total_ns"`
		Functions   []Row               `json:"functions"`
		Diagnostics session.Diagnostics `json:"diagnostics"`
	}
)

func Summarize(res session.Result, by By) Summary {
	s := Summary{
		ID:          res.ID,
		StartedAt:   res.StartedAt,
		TotalNS:     res.TotalNS,
		Functions:   make([]Row, 0, len(res.Entries)),
		Diagnostics: res.Diagnostics,
	}
	for _, e := range Sort(res.Entries, by) {
		r := Row{
			Label:     e.Label,
			CallCount: e.CallCount,
			TotalNS:   e.TotalNS,
			SelfNS:    e.SelfNS,
		}
		if e.CallCount > 0 {
			r.AvgNS = e.TotalNS / e.CallCount
		}
		if res.TotalNS > 0 {
			r.TotalPercent = percent(e.TotalNS, res.TotalNS)
			r.SelfPercent = percent(e.SelfNS, res.TotalNS)
		}
		s.Functions = append(s.Functions, r)
	}
	return s
}

func percent(v, total uint64) float64 {
	return float64(v) * 100 / float64(total)
}

// WriteTable prints a summary as aligned columns.
func WriteTable(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "calls\ttotal\ttotal%%\tself\tself%%\tavg\t function\n")
	for _, r := range s.Functions {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%s\t%.2f\t%s\t %s\n",
			r.CallCount,
			time.Duration(r.TotalNS),
			r.TotalPercent,
			time.Duration(r.SelfNS),
			r.SelfPercent,
			time.Duration(r.AvgNS),
			r.Label,
		)
	}
	fmt.Fprintf(tw, "\t%s\t\t\t\t\t session\n", time.Duration(s.TotalNS))
	return tw.Flush()
}
