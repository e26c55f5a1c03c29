package pipeline

import (
	"context"
	"reflect"
	"testing"

	"github.com/un-fck/webtv.unfck.org/internal/types"
)

func (f *fixture) addCompletedSegment(t *testing.T, id string, start, end *float64) {
	t.Helper()
	tr := &types.Transcript{
		ID:        id,
		EntryID:   "entry_1",
		StartTime: start,
		EndTime:   end,
		Status:    types.StatusCompleted,
		Content:   types.TranscriptContent{Version: 2},
	}
	if err := f.store.CreateTranscript(tr); err != nil {
		t.Fatal(err)
	}
}

func fp(v float64) *float64 { return &v }

func TestGapsPartialSegmentsNeedFullRetranscription(t *testing.T) {
	f := newFixture(t)
	f.addCompletedSegment(t, "tr_a", fp(0), fp(100))
	f.addCompletedSegment(t, "tr_b", fp(150), fp(300))

	report, err := f.orch.Gaps(context.Background(), GapRequest{
		ResourceID:    "entry_1",
		TotalDuration: fp(300),
		IsComplete:    true,
	})
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}

	if !report.NeedsFullRetranscription {
		t.Error("partial segments must require full re-transcription")
	}
	wantGaps := []Segment{{Start: 100, End: 150}}
	if !reflect.DeepEqual(report.Gaps, wantGaps) {
		t.Errorf("gaps = %v, want %v", report.Gaps, wantGaps)
	}
	if len(report.ExistingSegments) != 2 {
		t.Errorf("existing segments = %v", report.ExistingSegments)
	}
}

func TestGapsSingleFullSegment(t *testing.T) {
	f := newFixture(t)
	f.addCompletedSegment(t, "tr_a", fp(0), fp(300))

	report, err := f.orch.Gaps(context.Background(), GapRequest{
		ResourceID:    "entry_1",
		TotalDuration: fp(300),
		IsComplete:    true,
	})
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}

	if report.NeedsFullRetranscription {
		t.Error("a single whole-span segment should not require re-transcription")
	}
	if len(report.Gaps) != 0 {
		t.Errorf("gaps = %v, want none", report.Gaps)
	}
}

func TestGapsWholeResourceRowCountsAsFullSpan(t *testing.T) {
	f := newFixture(t)
	f.addCompletedSegment(t, "tr_primary", nil, nil)

	report, err := f.orch.Gaps(context.Background(), GapRequest{
		ResourceID:    "entry_1",
		TotalDuration: fp(300),
		IsComplete:    true,
	})
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	if report.NeedsFullRetranscription {
		t.Error("the primary null-range row covers the whole duration")
	}
}

func TestGapsLiveResource(t *testing.T) {
	f := newFixture(t)
	f.addCompletedSegment(t, "tr_a", fp(0), fp(600))

	report, err := f.orch.Gaps(context.Background(), GapRequest{
		ResourceID:  "entry_1",
		CurrentTime: fp(900),
		IsComplete:  false,
	})
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}

	if report.NeedsFullRetranscription {
		t.Error("live resources never need full re-transcription")
	}
	wantGaps := []Segment{{Start: 600, End: 900}}
	if !reflect.DeepEqual(report.Gaps, wantGaps) {
		t.Errorf("gaps = %v, want %v", report.Gaps, wantGaps)
	}
}

func TestGapsIgnoresIncompleteSegments(t *testing.T) {
	f := newFixture(t)
	f.addCompletedSegment(t, "tr_done", fp(0), fp(100))
	if err := f.store.CreateTranscript(&types.Transcript{
		ID: "tr_pending", EntryID: "entry_1",
		StartTime: fp(100), EndTime: fp(300),
		Status:  types.StatusTranscribing,
		Content: types.TranscriptContent{Version: 1},
	}); err != nil {
		t.Fatal(err)
	}

	report, err := f.orch.Gaps(context.Background(), GapRequest{
		ResourceID:    "entry_1",
		TotalDuration: fp(300),
		IsComplete:    true,
	})
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	wantGaps := []Segment{{Start: 100, End: 300}}
	if !reflect.DeepEqual(report.Gaps, wantGaps) {
		t.Errorf("gaps = %v, want %v (in-flight segments are not coverage)", report.Gaps, wantGaps)
	}
}
