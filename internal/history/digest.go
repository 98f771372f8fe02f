package history

import (
	"sort"
	"time"
)

const (
	DefaultTopPatterns = 20
	slowestLimit       = 10
)

// PatternStats aggregates executions sharing one fingerprint
type PatternStats struct {
	Fingerprint string    `json:"fingerprint"`
	Count       int       `json:"count"`
	Failures    int       `json:"failures"`
	TotalMS     int64     `json:"total_ms"`
	AvgMS       float64   `json:"avg_ms"`
	MaxMS       int64     `json:"max_ms"`
	MinMS       int64     `json:"min_ms"`
	RowsSent    int64     `json:"rows_sent"`
	RowsSentAvg float64   `json:"rows_sent_avg"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

type Digest struct {
	TopPatterns  []PatternStats `json:"top_patterns"`
	Slowest      []Entry        `json:"slowest"`
	TotalQueries int            `json:"total_queries"`
	TotalMS      int64          `json:"total_ms"`
}

// Summarize groups entries by fingerprint. Patterns are ordered by total
// time, descending, and cut at top (DefaultTopPatterns when top <= 0).
func Summarize(entries []Entry, top int) Digest {
	if top <= 0 {
		top = DefaultTopPatterns
	}

	d := Digest{
		TopPatterns: []PatternStats{},
		Slowest:     []Entry{},
	}
	patterns := make(map[string]*PatternStats)

	for _, e := range entries {
		st, ok := patterns[e.Fingerprint]
		if !ok {
			st = &PatternStats{
				Fingerprint: e.Fingerprint,
				MinMS:       e.DurationMS,
				FirstSeen:   e.Time,
				LastSeen:    e.Time,
			}
			patterns[e.Fingerprint] = st
		}

		st.Count++
		st.TotalMS += e.DurationMS
		st.RowsSent += int64(e.Rows)
		if e.Outcome != "ok" {
			st.Failures++
		}
		st.MaxMS = max(st.MaxMS, e.DurationMS)
		st.MinMS = min(st.MinMS, e.DurationMS)
		if e.Time.Before(st.FirstSeen) {
			st.FirstSeen = e.Time
		}
		if e.Time.After(st.LastSeen) {
			st.LastSeen = e.Time
		}

		d.TotalQueries++
		d.TotalMS += e.DurationMS
		d.Slowest = append(d.Slowest, e)
	}

	for _, st := range patterns {
		st.AvgMS = float64(st.TotalMS) / float64(st.Count)
		st.RowsSentAvg = float64(st.RowsSent) / float64(st.Count)
		d.TopPatterns = append(d.TopPatterns, *st)
	}
	sort.Slice(d.TopPatterns, func(i, j int) bool {
		if d.TopPatterns[i].TotalMS != d.TopPatterns[j].TotalMS {
			return d.TopPatterns[i].TotalMS > d.TopPatterns[j].TotalMS
		}
		return d.TopPatterns[i].Fingerprint < d.TopPatterns[j].Fingerprint
	})
	if len(d.TopPatterns) > top {
		d.TopPatterns = d.TopPatterns[:top]
	}

	sort.SliceStable(d.Slowest, func(i, j int) bool {
		return d.Slowest[i].DurationMS > d.Slowest[j].DurationMS
	})
	if len(d.Slowest) > slowestLimit {
		d.Slowest = d.Slowest[:slowestLimit]
	}
	return d
}

// Digest summarizes every stored entry
func (s *Store) Digest(top int) (Digest, error) {
	entries, err := s.List(0)
	if err != nil {
		return Digest{}, err
	}
	return Summarize(entries, top), nil
}
