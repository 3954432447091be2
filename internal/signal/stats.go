package signal

import (
	"math"
	"time"
)

// VolumeWindow is the span covered by the volume timeline.
const VolumeWindow = 24 * time.Hour

// VolumeBucket counts signals received in one hour.
type VolumeBucket struct {
	Hour  time.Time `json:"hour"`
	Count int       `json:"count"`
}

// SourceShare is one source's slice of the total signal count.
type SourceShare struct {
	Source  Source  `json:"source"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Stats backs the dashboard volume and noise-source charts.
type Stats struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Total       int              `json:"total"`
	Unread      int              `json:"unread"`
	Volume      []VolumeBucket   `json:"volume"`
	Sources     []SourceShare    `json:"sources"`
	BySeverity  map[Severity]int `json:"by_severity"`
}

// ComputeStats summarizes signals as of now. The volume timeline has one bucket per
// hour for the last 24 hours, oldest first, and ignores signals outside the window.
func ComputeStats(signals []Signal, now time.Time) Stats {
	now = now.UTC()
	current := now.Truncate(time.Hour)
	buckets := int(VolumeWindow / time.Hour)
	first := current.Add(-time.Duration(buckets-1) * time.Hour)

	st := Stats{
		GeneratedAt: now,
		Total:       len(signals),
		Volume:      make([]VolumeBucket, buckets),
		Sources:     make([]SourceShare, 0, len(Sources)),
		BySeverity:  make(map[Severity]int, len(Severities)),
	}
	for i := range st.Volume {
		st.Volume[i].Hour = first.Add(time.Duration(i) * time.Hour)
	}
	for _, sev := range Severities {
		st.BySeverity[sev] = 0
	}

	bySource := make(map[Source]int, len(Sources))
	for i := range signals {
		s := &signals[i]
		if !s.IsRead {
			st.Unread++
		}
		bySource[s.Source]++
		st.BySeverity[s.CalculatedSeverity]++

		ts := s.Timestamp.UTC()
		if ts.Before(first) || ts.After(now) {
			continue
		}
		idx := int(ts.Sub(first) / time.Hour)
		if idx >= 0 && idx < buckets {
			st.Volume[idx].Count++
		}
	}

	for _, src := range Sources {
		n := bySource[src]
		if n == 0 {
			continue
		}
		st.Sources = append(st.Sources, SourceShare{
			Source:  src,
			Count:   n,
			Percent: math.Round(float64(n)*1000/float64(len(signals))) / 10,
		})
	}
	return st
}
