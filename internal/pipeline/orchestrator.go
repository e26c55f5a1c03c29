package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/un-fck/webtv.unfck.org/internal/media"
	"github.com/un-fck/webtv.unfck.org/internal/statements"
	"github.com/un-fck/webtv.unfck.org/internal/store"
	"github.com/un-fck/webtv.unfck.org/internal/stt"
	"github.com/un-fck/webtv.unfck.org/internal/topics"
	"github.com/un-fck/webtv.unfck.org/internal/types"
)

// AudioResolver resolves a video id to an audio source.
type AudioResolver interface {
	Resolve(ctx context.Context, videoID string) (*media.Asset, error)
}

// Transcriber is the slice of the speech-to-text client the orchestrator
// drives.
type Transcriber interface {
	Submit(ctx context.Context, audioURL, language string) (string, error)
	Poll(ctx context.Context, transcriptID string) (*stt.PollResult, error)
}

// SpeakerIdentifier runs speaker attribution over built statements.
type SpeakerIdentifier interface {
	Identify(ctx context.Context, stmts []types.Statement, transcriptID string) (types.SpeakerMapping, error)
}

// TopicTagger runs a tagging pass over built statements.
type TopicTagger interface {
	Tag(ctx context.Context, stmts []types.Statement) ([]types.Statement, topics.Stats)
}

// Options bound the poll loop and the pipeline lock.
type Options struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	LockTimeout     time.Duration
}

func (o *Options) defaults() {
	if o.PollInterval == 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.PollMaxAttempts == 0 {
		o.PollMaxAttempts = 360
	}
	if o.LockTimeout == 0 {
		o.LockTimeout = 30 * time.Minute
	}
}

// Orchestrator drives a transcript through its states. All shared state
// lives in the store, so any number of orchestrator instances (or process
// restarts) can pick up where another left off.
type Orchestrator struct {
	store      *store.Store
	resolver   AudioResolver
	segments   media.SegmentDownloader
	stt        Transcriber
	identifier SpeakerIdentifier
	tagger     TopicTagger
	opts       Options
	log        *logrus.Entry
	wg         sync.WaitGroup
}

func New(st *store.Store, resolver AudioResolver, segments media.SegmentDownloader,
	transcriber Transcriber, identifier SpeakerIdentifier, tagger TopicTagger,
	opts Options, log *logrus.Entry) *Orchestrator {
	opts.defaults()
	return &Orchestrator{
		store:      st,
		resolver:   resolver,
		segments:   segments,
		stt:        transcriber,
		identifier: identifier,
		tagger:     tagger,
		opts:       opts,
		log:        log,
	}
}

// Request asks for transcription of a resource, optionally a time range of
// it (seconds). Force purges prior rows first.
type Request struct {
	ResourceID string
	Force      bool
	StartTime  *float64
	EndTime    *float64
}

// Result is the caller-facing view of a transcript.
type Result struct {
	TranscriptID   string                 `json:"transcriptId"`
	Stage          string                 `json:"stage"`
	Cached         bool                   `json:"cached,omitempty"`
	Language       string                 `json:"language,omitempty"`
	RawParagraphs  []types.RawParagraph   `json:"raw_paragraphs,omitempty"`
	Statements     []types.Statement      `json:"statements,omitempty"`
	Topics         map[string]types.Topic `json:"topics,omitempty"`
	ReformTopics   map[string]types.Topic `json:"reform_topics,omitempty"`
	SpeakerMapping types.SpeakerMapping   `json:"speakerMappings,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// Transcribe handles a transcription request: cache hit, resume of an
// in-flight transcript, retry after error, or a fresh submission.
func (o *Orchestrator) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if req.Force {
		if err := o.store.PurgeEntry(req.ResourceID); err != nil {
			return nil, err
		}
	}

	existing, err := o.store.FindByEntry(req.ResourceID, req.StartTime, req.EndTime)
	switch {
	case err == nil:
		if existing.Status == types.StatusCompleted && len(existing.Content.Statements) > 0 {
			res := o.resultFrom(existing)
			res.Cached = true
			return res, nil
		}
		// In-flight: resume by polling the existing upstream job instead of
		// resubmitting.
		o.runAsync(existing.ID)
		return o.resultFrom(existing), nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	asset, err := o.resolver.Resolve(ctx, req.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	if err := o.store.UpsertVideo(&types.Video{
		EntryID:         asset.EntryID,
		Title:           asset.Title,
		DurationSeconds: asset.DurationSeconds,
		IsLive:          asset.IsLiveStream,
	}); err != nil {
		return nil, err
	}

	audioURL := asset.AudioURL
	if asset.IsLiveStream || req.StartTime != nil || req.EndTime != nil {
		start, end := 0.0, asset.DurationSeconds
		if req.StartTime != nil {
			start = *req.StartTime
		}
		if req.EndTime != nil {
			end = *req.EndTime
		}
		audioURL, err = o.segments.DownloadSegments(ctx, asset.EntryID, asset.FlavorID, start, end)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
		}
	}

	transcriptID, err := o.stt.Submit(ctx, audioURL, "")
	if err != nil {
		return nil, err
	}

	t := &types.Transcript{
		ID:             transcriptID,
		EntryID:        asset.EntryID,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		Status:         types.StatusTranscribing,
		AudioSourceURL: audioURL,
		Content:        types.TranscriptContent{Version: 1},
	}
	if err := o.store.CreateTranscript(t); err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"transcript_id": transcriptID,
		"entry_id":      asset.EntryID,
	}).Info("transcription started")

	o.runAsync(transcriptID)
	return &Result{TranscriptID: transcriptID, Stage: types.StatusTranscribing}, nil
}

// Status returns the current state of a transcript. A request that finds
// the transcript stalled (after a crash or an abandoned poller) performs
// one recovery step itself; there is no background retry daemon.
func (o *Orchestrator) Status(ctx context.Context, transcriptID string) (*Result, error) {
	t, err := o.store.GetTranscript(transcriptID)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case types.StatusTranscribing:
		if err := o.advanceTranscription(ctx, transcriptID); err != nil &&
			!errors.Is(err, ErrPipelineBusy) {
			o.log.WithError(err).WithField("transcript_id", transcriptID).
				Warn("recovery step failed")
		}
	case types.StatusTranscribed, types.StatusIdentifyingSpeakers:
		// identifying_speakers with no live runner means the attributor's
		// holder died mid-stage; its lock goes stale and the acquire below
		// takes it over.
		if err := o.runAttribution(ctx, transcriptID); err != nil &&
			!errors.Is(err, ErrPipelineBusy) {
			o.log.WithError(err).WithField("transcript_id", transcriptID).
				Warn("recovery attribution failed")
		}
	}

	t, err = o.store.GetTranscript(transcriptID)
	if err != nil {
		return nil, err
	}
	return o.resultFrom(t), nil
}

// IdentifySpeakers triggers the attribution stage on demand.
func (o *Orchestrator) IdentifySpeakers(ctx context.Context, transcriptID string) (*Result, error) {
	t, err := o.store.GetTranscript(transcriptID)
	if err != nil {
		return nil, err
	}
	if len(t.Content.Statements) == 0 {
		return nil, ErrNoStatements
	}
	if err := o.runAttribution(ctx, transcriptID); err != nil {
		return nil, err
	}
	t, err = o.store.GetTranscript(transcriptID)
	if err != nil {
		return nil, err
	}
	return o.resultFrom(t), nil
}

// TagTopics runs an independent tagging pass over the transcript's
// statements, under the pipeline lock so it cannot race attribution writes.
func (o *Orchestrator) TagTopics(ctx context.Context, transcriptID string) (*Result, error) {
	holder := uuid.NewString()
	ok, err := o.store.AcquireLock(transcriptID, holder, o.opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Zero rows means either contention or no such transcript.
		if _, gerr := o.store.GetTranscript(transcriptID); gerr != nil {
			return nil, gerr
		}
		return nil, ErrPipelineBusy
	}
	defer o.releaseLock(transcriptID, holder)

	// Read only after the lock is held: the status and language written
	// back below must be the ones current inside the locked section, not a
	// snapshot another holder has since advanced.
	t, err := o.store.GetTranscript(transcriptID)
	if err != nil {
		return nil, err
	}
	if len(t.Content.Statements) == 0 {
		return nil, ErrNoStatements
	}

	tagged, stats := o.tagger.Tag(ctx, t.Content.Statements)
	content := t.Content
	content.Statements = tagged
	content.Topics, content.ReformTopics = topics.Dictionaries(tagged)
	if err := o.store.UpdateContent(transcriptID, content, t.Status, t.Language); err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"transcript_id": transcriptID,
		"tagged":        stats.Tagged,
		"failed":        stats.Failed,
	}).Info("topic tagging persisted")

	t, err = o.store.GetTranscript(transcriptID)
	if err != nil {
		return nil, err
	}
	return o.resultFrom(t), nil
}

// Wait blocks until all background pipeline runs finish. Used on shutdown;
// abandoned work is resumed from persisted state on the next request.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// runAsync drives a transcript to completion in the background, in the
// manner of a detached worker. Every stage transition is persisted first,
// so losing this goroutine loses no completed work.
func (o *Orchestrator) runAsync(transcriptID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx := context.Background()
		if err := o.awaitTranscription(ctx, transcriptID); err != nil {
			if !errors.Is(err, ErrPipelineBusy) {
				o.log.WithError(err).WithField("transcript_id", transcriptID).
					Error("pipeline run ended with error")
			}
			return
		}
		if err := o.runAttribution(ctx, transcriptID); err != nil &&
			!errors.Is(err, ErrPipelineBusy) {
			o.log.WithError(err).WithField("transcript_id", transcriptID).
				Error("attribution stage failed")
		}
	}()
}

// awaitTranscription polls the upstream job at a fixed interval up to the
// attempt budget, then persists and returns the outcome.
func (o *Orchestrator) awaitTranscription(ctx context.Context, transcriptID string) error {
	for attempt := 0; attempt < o.opts.PollMaxAttempts; attempt++ {
		done, err := o.pollOnce(ctx, transcriptID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.opts.PollInterval):
		}
	}

	if err := o.store.UpdateStatus(transcriptID, types.StatusError, ErrTranscriptionTimeout.Error()); err != nil {
		o.log.WithError(err).Warn("persisting timeout state")
	}
	return ErrTranscriptionTimeout
}

// advanceTranscription is the single-step variant used by Status recovery.
func (o *Orchestrator) advanceTranscription(ctx context.Context, transcriptID string) error {
	done, err := o.pollOnce(ctx, transcriptID)
	if err != nil || !done {
		return err
	}
	return o.runAttribution(ctx, transcriptID)
}

// pollOnce asks the transcription service for the job state. When the job
// has completed it builds statements and persists the transcribed state;
// done is then true.
func (o *Orchestrator) pollOnce(ctx context.Context, transcriptID string) (done bool, err error) {
	pr, err := o.stt.Poll(ctx, transcriptID)
	if err != nil {
		return false, err
	}

	switch pr.Status {
	case stt.JobError:
		if uerr := o.store.UpdateStatus(transcriptID, types.StatusError, pr.Error); uerr != nil {
			o.log.WithError(uerr).Warn("persisting upstream error")
		}
		return false, fmt.Errorf("%w: %s", ErrTranscriptionFailed, pr.Error)
	case stt.JobCompleted:
		return true, o.completeTranscription(transcriptID, pr)
	default:
		return false, nil
	}
}

// completeTranscription turns raw paragraphs into the statement hierarchy
// and persists the transcribed state. Rebuilding from changed raw input
// invalidates any prior speaker mapping, so attribution always runs after
// this.
func (o *Orchestrator) completeTranscription(transcriptID string, pr *stt.PollResult) error {
	content := types.TranscriptContent{
		Version:       types.ContentVersion,
		SourceHash:    statements.SourceHash(pr.Paragraphs),
		RawParagraphs: pr.Paragraphs,
		Statements:    statements.Build(pr.Paragraphs),
	}
	if err := o.store.UpdateContent(transcriptID, content, types.StatusTranscribed, pr.Language); err != nil {
		return err
	}
	o.log.WithFields(logrus.Fields{
		"transcript_id": transcriptID,
		"paragraphs":    len(pr.Paragraphs),
		"statements":    len(content.Statements),
	}).Info("statements built")
	return nil
}

// runAttribution executes the locked attribution stage. The lock is
// released on every exit path.
func (o *Orchestrator) runAttribution(ctx context.Context, transcriptID string) error {
	holder := uuid.NewString()
	ok, err := o.store.AcquireLock(transcriptID, holder, o.opts.LockTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPipelineBusy
	}
	defer o.releaseLock(transcriptID, holder)

	if err := o.store.UpdateStatus(transcriptID, types.StatusIdentifyingSpeakers, ""); err != nil {
		return err
	}

	t, err := o.store.GetTranscript(transcriptID)
	if err != nil {
		return err
	}

	if _, err := o.identifier.Identify(ctx, t.Content.Statements, transcriptID); err != nil {
		if uerr := o.store.UpdateStatus(transcriptID, types.StatusError, err.Error()); uerr != nil {
			o.log.WithError(uerr).Warn("persisting attribution error")
		}
		return fmt.Errorf("%w: %v", ErrAttributionFailed, err)
	}

	return o.store.UpdateStatus(transcriptID, types.StatusCompleted, "")
}

func (o *Orchestrator) releaseLock(transcriptID, holder string) {
	if err := o.store.ReleaseLock(transcriptID, holder); err != nil {
		o.log.WithError(err).WithField("transcript_id", transcriptID).
			Warn("releasing pipeline lock")
	}
}

func (o *Orchestrator) resultFrom(t *types.Transcript) *Result {
	res := &Result{
		TranscriptID: t.ID,
		Stage:        t.Status,
		Language:     t.Language,
		Statements:   t.Content.Statements,
		Topics:       t.Content.Topics,
		ReformTopics: t.Content.ReformTopics,
		Error:        t.ErrorMessage,
	}
	if len(t.Content.Statements) == 0 {
		res.RawParagraphs = t.Content.RawParagraphs
	}
	if mapping, err := o.store.GetSpeakerMapping(t.ID); err == nil {
		res.SpeakerMapping = mapping
	}
	return res
}
