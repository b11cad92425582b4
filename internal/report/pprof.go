package report

import (
	"github.com/google/pprof/profile"

	"github.com/getsentry/lprofile/internal/session"
)

// Pprof converts a result into a pprof profile with one sample per function
// holding its call count, total time and self time.
func Pprof(res session.Result) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "calls", Unit: "count"},
			{Type: "total", Unit: "nanoseconds"},
			{Type: "self", Unit: "nanoseconds"},
		},
		DefaultSampleType: "self",
		PeriodType:        &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:            1,
		DurationNanos:     int64(res.TotalNS),
		TimeNanos:         res.StartedAt.UnixNano(),
	}
	m := &profile.Mapping{ID: 1, HasFunctions: true}
	p.Mapping = []*profile.Mapping{m}

	for i, e := range Sort(res.Entries, ByLabel) {
		id := uint64(i + 1)
		function := &profile.Function{
			ID:         id,
			Name:       e.Label,
			SystemName: e.Label,
		}
		p.Function = append(p.Function, function)

		location := &profile.Location{
			ID:      id,
			Mapping: m,
			Line:    []profile.Line{{Function: function}},
		}
		p.Location = append(p.Location, location)

		kind := "scripted"
		if e.Native {
			kind = "native"
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{location},
			Value: []int64{
				int64(e.CallCount),
				int64(e.TotalNS),
				int64(e.SelfNS),
			},
			Label: map[string][]string{"kind": {kind}},
		})
	}
	return p
}
