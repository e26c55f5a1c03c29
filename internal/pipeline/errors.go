package pipeline

import "errors"

// Error taxonomy of the pipeline. Handlers map these onto HTTP statuses;
// everything else wraps one of them.
var (
	// ErrResolutionFailed: no audio source could be located for the
	// resource. Terminal and user-visible.
	ErrResolutionFailed = errors.New("audio resolution failed")

	// ErrTranscriptionTimeout: the upstream job never completed within the
	// poll budget. Terminal, retryable by resubmission.
	ErrTranscriptionTimeout = errors.New("transcription timed out")

	// ErrTranscriptionFailed: upstream reported failure; the upstream
	// message is carried verbatim in the wrap.
	ErrTranscriptionFailed = errors.New("transcription failed")

	// ErrAttributionFailed: the classifier produced no parsable speaker
	// records. Statements remain valid and retrievable.
	ErrAttributionFailed = errors.New("speaker attribution failed")

	// ErrPipelineBusy: pipeline lock contention. Not a failure of the
	// transcript; the caller should back off and retry.
	ErrPipelineBusy = errors.New("pipeline busy")

	// ErrNoStatements: an enrichment stage was invoked before statements
	// exist for the transcript.
	ErrNoStatements = errors.New("transcript has no statements")
)
