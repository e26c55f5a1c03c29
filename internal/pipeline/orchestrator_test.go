package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/un-fck/webtv.unfck.org/internal/media"
	"github.com/un-fck/webtv.unfck.org/internal/store"
	"github.com/un-fck/webtv.unfck.org/internal/stt"
	"github.com/un-fck/webtv.unfck.org/internal/topics"
	"github.com/un-fck/webtv.unfck.org/internal/types"
)

type fakeResolver struct {
	asset *media.Asset
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, videoID string) (*media.Asset, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.asset, nil
}

type fakeTranscriber struct {
	mu      sync.Mutex
	submits int
	nextID  string
	poll    *stt.PollResult
	pollErr error
}

func (f *fakeTranscriber) Submit(ctx context.Context, audioURL, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return f.nextID, nil
}

func (f *fakeTranscriber) Poll(ctx context.Context, transcriptID string) (*stt.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return f.poll, nil
}

func (f *fakeTranscriber) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type fakeIdentifier struct {
	mu      sync.Mutex
	calls   int
	err     error
	started chan struct{} // closed/guarded externally when blocking is wanted
	release chan struct{}
	store   *store.Store
}

func (f *fakeIdentifier) Identify(ctx context.Context, stmts []types.Statement, transcriptID string) (types.SpeakerMapping, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	mapping := types.SpeakerMapping{"0": {Name: "Someone"}}
	if f.store != nil {
		if err := f.store.SaveSpeakerMapping(transcriptID, mapping); err != nil {
			return nil, err
		}
	}
	return mapping, nil
}

func (f *fakeIdentifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTagger struct{}

func (fakeTagger) Tag(ctx context.Context, stmts []types.Statement) ([]types.Statement, topics.Stats) {
	return stmts, topics.Stats{Sentences: 0}
}

type fixture struct {
	store       *store.Store
	transcriber *fakeTranscriber
	identifier  *fakeIdentifier
	orch        *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	transcriber := &fakeTranscriber{
		nextID: "tr_new",
		poll: &stt.PollResult{
			Status:   stt.JobCompleted,
			Language: "en",
			Paragraphs: []types.RawParagraph{
				{Speaker: "A", Text: "I call the meeting to order.", StartMs: 0, EndMs: 3000},
			},
		},
	}
	identifier := &fakeIdentifier{store: st}
	resolver := &fakeResolver{asset: &media.Asset{
		EntryID:         "entry_1",
		AudioURL:        "https://media.example.org/a.mp3",
		FlavorID:        "fl_1",
		DurationSeconds: 300,
	}}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	orch := New(st, resolver, media.NoopSegmentDownloader{}, transcriber, identifier, fakeTagger{},
		Options{PollInterval: time.Millisecond, PollMaxAttempts: 3, LockTimeout: time.Minute},
		logrus.NewEntry(log))

	return &fixture{store: st, transcriber: transcriber, identifier: identifier, orch: orch}
}

func TestTranscribeNewSubmission(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Transcribe(context.Background(), Request{ResourceID: "entry_1"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.TranscriptID != "tr_new" || res.Stage != types.StatusTranscribing {
		t.Errorf("result = %+v", res)
	}

	f.orch.Wait()

	got, err := f.store.GetTranscript("tr_new")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.StatusCompleted {
		t.Errorf("status = %q, want completed (error: %s)", got.Status, got.ErrorMessage)
	}
	if len(got.Content.Statements) == 0 {
		t.Error("statements not built")
	}
	if got.LockHolder != "" {
		t.Error("lock not released after pipeline run")
	}
}

func TestIdempotentSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orch.Transcribe(ctx, Request{ResourceID: "entry_1"})
	if err != nil {
		t.Fatalf("first transcribe: %v", err)
	}
	f.orch.Wait()

	second, err := f.orch.Transcribe(ctx, Request{ResourceID: "entry_1"})
	if err != nil {
		t.Fatalf("second transcribe: %v", err)
	}
	f.orch.Wait()

	if first.TranscriptID != second.TranscriptID {
		t.Errorf("transcript ids differ: %q vs %q", first.TranscriptID, second.TranscriptID)
	}
	if !second.Cached {
		t.Error("second submission should be a cache hit")
	}
	if n := f.transcriber.submitCount(); n != 1 {
		t.Errorf("upstream submitted %d times, want 1", n)
	}
}

func TestForceResubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.Transcribe(ctx, Request{ResourceID: "entry_1"}); err != nil {
		t.Fatal(err)
	}
	f.orch.Wait()

	f.transcriber.mu.Lock()
	f.transcriber.nextID = "tr_forced"
	f.transcriber.mu.Unlock()

	res, err := f.orch.Transcribe(ctx, Request{ResourceID: "entry_1", Force: true})
	if err != nil {
		t.Fatalf("forced transcribe: %v", err)
	}
	f.orch.Wait()

	if res.TranscriptID != "tr_forced" {
		t.Errorf("forced submission reused %q", res.TranscriptID)
	}
	if _, err := f.store.GetTranscript("tr_new"); !errors.Is(err, store.ErrNotFound) {
		t.Error("prior rows should be purged on force")
	}
	if n := f.transcriber.submitCount(); n != 2 {
		t.Errorf("upstream submitted %d times, want 2", n)
	}
}

func TestResolutionFailure(t *testing.T) {
	f := newFixture(t)
	f.orch.resolver = &fakeResolver{err: media.ErrNoEntry}

	_, err := f.orch.Transcribe(context.Background(), Request{ResourceID: "nope"})
	if !errors.Is(err, ErrResolutionFailed) {
		t.Errorf("got %v, want ErrResolutionFailed", err)
	}
}

func TestUpstreamErrorSurfacedVerbatim(t *testing.T) {
	f := newFixture(t)
	f.transcriber.poll = &stt.PollResult{Status: stt.JobError, Error: "audio file unreadable"}

	if _, err := f.orch.Transcribe(context.Background(), Request{ResourceID: "entry_1"}); err != nil {
		t.Fatal(err)
	}
	f.orch.Wait()

	got, err := f.store.GetTranscript("tr_new")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusError {
		t.Errorf("status = %q, want error", got.Status)
	}
	if got.ErrorMessage != "audio file unreadable" {
		t.Errorf("error message = %q, want upstream text verbatim", got.ErrorMessage)
	}
}

func TestTranscriptionTimeout(t *testing.T) {
	f := newFixture(t)
	f.transcriber.poll = &stt.PollResult{Status: stt.JobProcessing}

	if _, err := f.orch.Transcribe(context.Background(), Request{ResourceID: "entry_1"}); err != nil {
		t.Fatal(err)
	}
	f.orch.Wait()

	got, err := f.store.GetTranscript("tr_new")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusError {
		t.Errorf("status = %q, want error after poll budget", got.Status)
	}
	if got.ErrorMessage != ErrTranscriptionTimeout.Error() {
		t.Errorf("error message = %q", got.ErrorMessage)
	}
}

func TestErrorRowAllowsRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.transcriber.poll = &stt.PollResult{Status: stt.JobError, Error: "boom"}
	if _, err := f.orch.Transcribe(ctx, Request{ResourceID: "entry_1"}); err != nil {
		t.Fatal(err)
	}
	f.orch.Wait()

	// A row in error state is treated as not-found: the retry submits a
	// fresh upstream job without force.
	f.transcriber.mu.Lock()
	f.transcriber.nextID = "tr_retry"
	f.transcriber.poll = &stt.PollResult{Status: stt.JobProcessing}
	f.transcriber.mu.Unlock()

	res, err := f.orch.Transcribe(ctx, Request{ResourceID: "entry_1"})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	f.orch.Wait()
	if res.TranscriptID != "tr_retry" {
		t.Errorf("retry reused %q", res.TranscriptID)
	}
}

func TestLockExclusivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.Transcribe(ctx, Request{ResourceID: "entry_1"}); err != nil {
		t.Fatal(err)
	}
	f.orch.Wait()
	if n := f.identifier.callCount(); n != 1 {
		t.Fatalf("pipeline run attributed %d times, want 1", n)
	}

	// Block the next attribution inside the locked section, then race a
	// second trigger against it.
	f.identifier.started = make(chan struct{}, 1)
	f.identifier.release = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := f.orch.IdentifySpeakers(ctx, "tr_new")
		errCh <- err
	}()
	<-f.identifier.started

	if _, err := f.orch.IdentifySpeakers(ctx, "tr_new"); !errors.Is(err, ErrPipelineBusy) {
		t.Errorf("concurrent trigger got %v, want ErrPipelineBusy", err)
	}

	close(f.identifier.release)
	if err := <-errCh; err != nil {
		t.Fatalf("locked trigger failed: %v", err)
	}

	got, err := f.store.GetTranscript("tr_new")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.LockHolder != "" {
		t.Error("lock not released")
	}
}

func TestAttributionFailureReleasesLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.Transcribe(ctx, Request{ResourceID: "entry_1"}); err != nil {
		t.Fatal(err)
	}
	f.orch.Wait()

	f.identifier.err = fmt.Errorf("classifier gibberish")
	_, err := f.orch.IdentifySpeakers(ctx, "tr_new")
	if !errors.Is(err, ErrAttributionFailed) {
		t.Errorf("got %v, want ErrAttributionFailed", err)
	}

	got, gerr := f.store.GetTranscript("tr_new")
	if gerr != nil {
		t.Fatal(gerr)
	}
	if got.Status != types.StatusError {
		t.Errorf("status = %q, want error", got.Status)
	}
	if got.LockHolder != "" {
		t.Error("lock must be released on the failure path")
	}
}

func builtContent() types.TranscriptContent {
	return types.TranscriptContent{
		Version: types.ContentVersion,
		Statements: []types.Statement{{
			StartMs: 0,
			EndMs:   3000,
			Paragraphs: []types.Paragraph{{
				Speaker: "A",
				StartMs: 0,
				EndMs:   3000,
				Sentences: []types.Sentence{
					{Text: "I call the meeting to order.", StartMs: 0, EndMs: 3000},
				},
			}},
		}},
	}
}

func TestStatusRecoversAbandonedAttribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Simulate a crash mid-attribution: row persisted as
	// identifying_speakers, no background runner alive, lock already gone.
	if err := f.store.CreateTranscript(&types.Transcript{
		ID:      "tr_abandoned",
		EntryID: "entry_1",
		Status:  types.StatusIdentifyingSpeakers,
		Content: builtContent(),
	}); err != nil {
		t.Fatal(err)
	}

	res, err := f.orch.Status(ctx, "tr_abandoned")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Stage != types.StatusCompleted {
		t.Errorf("stage = %q, want completed after recovery step", res.Stage)
	}
	if n := f.identifier.callCount(); n != 1 {
		t.Errorf("attribution ran %d times, want 1", n)
	}

	got, err := f.store.GetTranscript("tr_abandoned")
	if err != nil {
		t.Fatal(err)
	}
	if got.LockHolder != "" {
		t.Error("recovery must release the lock")
	}
}

func TestStatusTakesOverStaleAttributionLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A holder that died without releasing: the row stays locked in
	// identifying_speakers until the lock ages past the timeout.
	if err := f.store.CreateTranscript(&types.Transcript{
		ID:      "tr_wedged",
		EntryID: "entry_1",
		Status:  types.StatusIdentifyingSpeakers,
		Content: builtContent(),
	}); err != nil {
		t.Fatal(err)
	}
	ok, err := f.store.AcquireLock("tr_wedged", "dead-holder", time.Minute)
	if err != nil || !ok {
		t.Fatalf("seed lock: ok=%v err=%v", ok, err)
	}

	// While the lock is fresh the recovery step stands down.
	res, err := f.orch.Status(ctx, "tr_wedged")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Stage != types.StatusIdentifyingSpeakers {
		t.Errorf("stage = %q, want identifying_speakers while lock is held", res.Stage)
	}

	f.orch.opts.LockTimeout = 5 * time.Millisecond
	time.Sleep(20 * time.Millisecond)

	res, err = f.orch.Status(ctx, "tr_wedged")
	if err != nil {
		t.Fatalf("status after staleness: %v", err)
	}
	if res.Stage != types.StatusCompleted {
		t.Errorf("stage = %q, want completed after stale-lock takeover", res.Stage)
	}
}

func TestTagTopicsConflictsWithAttribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.Transcribe(ctx, Request{ResourceID: "entry_1"}); err != nil {
		t.Fatal(err)
	}
	f.orch.Wait()

	// Hold the lock inside a blocked attribution run; a tagging pass in
	// that window must yield, not write.
	f.identifier.started = make(chan struct{}, 1)
	f.identifier.release = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := f.orch.IdentifySpeakers(ctx, "tr_new")
		errCh <- err
	}()
	<-f.identifier.started

	if _, err := f.orch.TagTopics(ctx, "tr_new"); !errors.Is(err, ErrPipelineBusy) {
		t.Errorf("tagging during attribution got %v, want ErrPipelineBusy", err)
	}

	close(f.identifier.release)
	if err := <-errCh; err != nil {
		t.Fatalf("attribution run failed: %v", err)
	}

	res, err := f.orch.TagTopics(ctx, "tr_new")
	if err != nil {
		t.Fatalf("tagging after attribution: %v", err)
	}
	if res.Stage != types.StatusCompleted {
		t.Errorf("stage = %q, tagging must write back the status current under the lock", res.Stage)
	}

	got, err := f.store.GetTranscript("tr_new")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusCompleted {
		t.Errorf("status regressed to %q after tagging", got.Status)
	}
	if got.LockHolder != "" {
		t.Error("tagging lock not released")
	}
}

func TestTagTopicsGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.TagTopics(ctx, "tr_missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown transcript got %v, want ErrNotFound", err)
	}

	if err := f.store.CreateTranscript(&types.Transcript{
		ID:      "tr_raw",
		EntryID: "entry_1",
		Status:  types.StatusTranscribing,
		Content: types.TranscriptContent{Version: 1},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.TagTopics(ctx, "tr_raw"); !errors.Is(err, ErrNoStatements) {
		t.Errorf("statement-less transcript got %v, want ErrNoStatements", err)
	}

	got, err := f.store.GetTranscript("tr_raw")
	if err != nil {
		t.Fatal(err)
	}
	if got.LockHolder != "" {
		t.Error("lock must be released on the no-statements path")
	}
}

func TestStatusRecoversStalledTranscript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Simulate a crash after submission: row exists in transcribing state
	// but no background runner is alive.
	if err := f.store.CreateTranscript(&types.Transcript{
		ID:      "tr_stalled",
		EntryID: "entry_1",
		Status:  types.StatusTranscribing,
		Content: types.TranscriptContent{Version: 1},
	}); err != nil {
		t.Fatal(err)
	}

	res, err := f.orch.Status(ctx, "tr_stalled")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.Stage != types.StatusCompleted {
		t.Errorf("stage = %q, want completed after recovery step", res.Stage)
	}
	if len(res.SpeakerMapping) == 0 {
		t.Error("recovered transcript should carry a speaker mapping")
	}
}
