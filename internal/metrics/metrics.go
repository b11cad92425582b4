package metrics

import (
	"errors"
	"hash/fnv"
	"math"
	"sort"

	"github.com/getsentry/lprofile/internal/session"
	"github.com/getsentry/lprofile/internal/stats"
)

type (
	// Function accumulates the statistics of a function across results.
	Function struct {
		Label       string
		Fingerprint uint64
		Native      bool
		CallCount   uint64
		SelfTimesNS []uint64
		SumSelfNS   uint64
		SumTotalNS  uint64
	}

	FunctionsMetadata struct {
		MaxVal   uint64
		WorstID  string
		Examples []string
	}
)

type Aggregator struct {
	MaxUniqueFunctions uint
	MaxNumOfExamples   uint
	Functions          map[uint64]Function
	FunctionsMetadata  map[uint64]FunctionsMetadata
}

type FunctionMetrics struct {
	Name        string   `json:"name"`
	Fingerprint uint64   `json:"fingerprint"`
	InApp       bool     `json:"in_app"`
	P75         uint64   `json:"p75"`
	P95         uint64   `json:"p95"`
	P99         uint64   `json:"p99"`
	Avg         float64  `json:"avg"`
	Sum         uint64   `json:"sum"`
	Total       uint64   `json:"total"`
	Count       uint64   `json:"count"`
	Worst       string   `json:"worst"`
	Examples    []string `json:"examples"`
}

func NewAggregator(maxUniqueFunctions uint, maxNumOfExamples uint) Aggregator {
	return Aggregator{
		MaxUniqueFunctions: maxUniqueFunctions,
		MaxNumOfExamples:   maxNumOfExamples,
		Functions:          make(map[uint64]Function),
		FunctionsMetadata:  make(map[uint64]FunctionsMetadata),
	}
}

// Fingerprint identifies a function across results. Identities are only
// stable within a session so the label is hashed instead.
func Fingerprint(label string) uint64 {
	h := fnv.New64()
	h.Write([]byte(label))
	return h.Sum64()
}

// AddResult adds every function of a result, each function contributing one
// self time sample. Entries sharing a label are merged first.
func (ma *Aggregator) AddResult(res session.Result) {
	merged := make(map[uint64]stats.Entry, len(res.Entries))
	order := make([]uint64, 0, len(res.Entries))
	for _, e := range res.Entries {
		fp := Fingerprint(e.Label)
		m, ok := merged[fp]
		if !ok {
			order = append(order, fp)
			merged[fp] = e
			continue
		}
		m.CallCount += e.CallCount
		m.SelfNS += e.SelfNS
		m.TotalNS += e.TotalNS
		m.Native = m.Native && e.Native
		merged[fp] = m
	}

	for _, fp := range order {
		e := merged[fp]
		fn, ok := ma.Functions[fp]
		if !ok {
			ma.Functions[fp] = Function{
				Label:       e.Label,
				Fingerprint: fp,
				Native:      e.Native,
				CallCount:   e.CallCount,
				SelfTimesNS: []uint64{e.SelfNS},
				SumSelfNS:   e.SelfNS,
				SumTotalNS:  e.TotalNS,
			}
			ma.FunctionsMetadata[fp] = FunctionsMetadata{
				MaxVal:   e.SelfNS,
				WorstID:  res.ID,
				Examples: []string{res.ID},
			}
			continue
		}
		fn.CallCount += e.CallCount
		fn.SelfTimesNS = append(fn.SelfTimesNS, e.SelfNS)
		fn.SumSelfNS += e.SelfNS
		fn.SumTotalNS += e.TotalNS
		ma.Functions[fp] = fn

		md := ma.FunctionsMetadata[fp]
		if e.SelfNS > md.MaxVal {
			md.MaxVal = e.SelfNS
			md.WorstID = res.ID
		}
		if len(md.Examples) < int(ma.MaxNumOfExamples) {
			md.Examples = append(md.Examples, res.ID)
		}
		ma.FunctionsMetadata[fp] = md
	}
}

func (ma *Aggregator) ToMetrics() []FunctionMetrics {
	metrics := make([]FunctionMetrics, 0, len(ma.Functions))

	for _, f := range ma.Functions {
		sort.Slice(f.SelfTimesNS, func(i, j int) bool {
			return f.SelfTimesNS[i] < f.SelfTimesNS[j]
		})
		p75, _ := quantile(f.SelfTimesNS, 0.75)
		p95, _ := quantile(f.SelfTimesNS, 0.95)
		p99, _ := quantile(f.SelfTimesNS, 0.99)
		metrics = append(metrics, FunctionMetrics{
			Name:        f.Label,
			Fingerprint: f.Fingerprint,
			InApp:       !f.Native,
			P75:         p75,
			P95:         p95,
			P99:         p99,
			Avg:         float64(f.SumSelfNS) / float64(len(f.SelfTimesNS)),
			Sum:         f.SumSelfNS,
			Total:       f.SumTotalNS,
			Count:       f.CallCount,
			Worst:       ma.FunctionsMetadata[f.Fingerprint].WorstID,
			Examples:    ma.FunctionsMetadata[f.Fingerprint].Examples,
		})
	}
	sort.Slice(metrics, func(i, j int) bool {
		if metrics[i].Sum != metrics[j].Sum {
			return metrics[i].Sum > metrics[j].Sum
		}
		return metrics[i].Name < metrics[j].Name
	})
	if len(metrics) > int(ma.MaxUniqueFunctions) {
		metrics = metrics[:ma.MaxUniqueFunctions]
	}
	return metrics
}

func quantile(values []uint64, q float64) (uint64, error) {
	if len(values) == 0 {
		return 0, errors.New("cannot compute percentile from empty list")
	}
	if q <= 0 || q > 1 {
		return 0, errors.New("q must be a value between 0 and 1.0")
	}
	index := int(math.Ceil(float64(len(values))*q)) - 1
	return values[index], nil
}
