package pipeline

import (
	"context"
	"sort"

	"github.com/un-fck/webtv.unfck.org/internal/types"
)

// GapRequest asks which time intervals of a resource still lack a completed
// transcript. For finished resources TotalDuration bounds the analysis; for
// live resources CurrentTime does.
type GapRequest struct {
	ResourceID    string
	CurrentTime   *float64
	TotalDuration *float64
	IsComplete    bool
}

// Segment is a closed-open time interval in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// GapReport lists the completed coverage and its complement. For a finished
// resource, anything short of a single segment spanning the whole duration
// requires a full re-transcription: partial segments cannot be stitched
// into an authoritative primary transcript.
type GapReport struct {
	ExistingSegments         []Segment `json:"existingSegments"`
	Gaps                     []Segment `json:"gaps"`
	NeedsFullRetranscription bool      `json:"needsFullRetranscription"`
}

const gapEpsilon = 0.5 // seconds; upstream timing jitter tolerance

// Gaps computes the uncovered intervals of a resource from its completed
// transcript segments.
func (o *Orchestrator) Gaps(ctx context.Context, req GapRequest) (*GapReport, error) {
	rows, err := o.store.ListByEntry(req.ResourceID)
	if err != nil {
		return nil, err
	}

	target := 0.0
	if req.IsComplete {
		if req.TotalDuration != nil {
			target = *req.TotalDuration
		}
	} else if req.CurrentTime != nil {
		target = *req.CurrentTime
	}

	var segments []Segment
	for _, t := range rows {
		if t.Status != types.StatusCompleted {
			continue
		}
		seg := Segment{End: target}
		if t.StartTime != nil {
			seg.Start = *t.StartTime
		}
		if t.EndTime != nil {
			seg.End = *t.EndTime
		}
		segments = append(segments, seg)
	}
	sort.Slice(segments, func(i, j int) bool {
		if segments[i].Start == segments[j].Start {
			return segments[i].End < segments[j].End
		}
		return segments[i].Start < segments[j].Start
	})

	report := &GapReport{
		ExistingSegments: segments,
		Gaps:             complement(segments, target),
	}
	if req.IsComplete {
		report.NeedsFullRetranscription = !hasFullSpan(segments, target)
	}
	return report, nil
}

// complement returns the intervals of [0, target) not covered by segments.
func complement(segments []Segment, target float64) []Segment {
	gaps := []Segment{}
	cursor := 0.0
	for _, s := range segments {
		if s.Start > cursor+gapEpsilon {
			gaps = append(gaps, Segment{Start: cursor, End: s.Start})
		}
		if s.End > cursor {
			cursor = s.End
		}
	}
	if target > cursor+gapEpsilon {
		gaps = append(gaps, Segment{Start: cursor, End: target})
	}
	return gaps
}

func hasFullSpan(segments []Segment, target float64) bool {
	for _, s := range segments {
		if s.Start <= gapEpsilon && s.End >= target-gapEpsilon {
			return true
		}
	}
	return false
}
