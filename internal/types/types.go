package types

import "time"

// Transcript status constants, in pipeline order.
const (
	StatusTranscribing        = "transcribing"
	StatusTranscribed         = "transcribed"
	StatusIdentifyingSpeakers = "identifying_speakers"
	StatusCompleted           = "completed"
	StatusError               = "error"
)

// ContentVersion is the current layout version of the transcript content
// document. Version 1 holds raw paragraphs only; version 2 adds the
// statement hierarchy and topic dictionaries.
const ContentVersion = 2

// Word is a single time-coded word from the transcription service.
type Word struct {
	Text       string  `json:"text"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence,omitempty"`
}

// RawParagraph is one paragraph as returned by the transcription service,
// carrying the upstream diarization label. Diarization labels are hints,
// not identities.
type RawParagraph struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Words   []Word `json:"words,omitempty"`
}

// Sentence is the unit of topic tagging. TopicKeys and ReformTopicKeys are
// independent taxonomies; both empty is a valid "no topics" result.
type Sentence struct {
	Text            string   `json:"text"`
	StartMs         int64    `json:"start_ms"`
	EndMs           int64    `json:"end_ms"`
	Words           []Word   `json:"words,omitempty"`
	TopicKeys       []string `json:"topic_keys,omitempty"`
	ReformTopicKeys []string `json:"reform_topic_keys,omitempty"`
}

// Paragraph groups consecutive sentences spoken under one diarization label.
type Paragraph struct {
	Speaker   string     `json:"speaker"`
	StartMs   int64      `json:"start_ms"`
	EndMs     int64      `json:"end_ms"`
	Sentences []Sentence `json:"sentences"`
}

// Statement is one continuous speaking turn. Its position in the statements
// slice is its identity: the speaker mapping is keyed by that index.
type Statement struct {
	StartMs    int64       `json:"start_ms"`
	EndMs      int64       `json:"end_ms"`
	Paragraphs []Paragraph `json:"paragraphs"`
}

// Topic is one entry of a topic taxonomy.
type Topic struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// TranscriptContent is the versioned JSON document stored on a transcript.
// RawParagraphs are kept after statement building so statements can be
// rebuilt without re-transcribing.
type TranscriptContent struct {
	Version       int              `json:"version"`
	SourceHash    string           `json:"source_hash,omitempty"`
	RawParagraphs []RawParagraph   `json:"raw_paragraphs,omitempty"`
	Statements    []Statement      `json:"statements,omitempty"`
	Topics        map[string]Topic `json:"topics,omitempty"`
	ReformTopics  map[string]Topic `json:"reform_topics,omitempty"`
}

// SpeakerInfo is the inferred identity of the speaker of one statement.
// Empty fields mean the model could not infer the attribute.
type SpeakerInfo struct {
	Name        string `json:"name,omitempty"`
	Function    string `json:"function,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
	Group       string `json:"group,omitempty"`
}

// SpeakerMapping maps a statement index (as a string key) to its speaker.
type SpeakerMapping map[string]SpeakerInfo

// Transcript is the central pipeline entity. ID is assigned by the
// transcription service; EntryID is the owning resource. A nil time range
// means the transcript covers the whole resource.
type Transcript struct {
	ID             string            `json:"transcript_id"`
	EntryID        string            `json:"entry_id"`
	StartTime      *float64          `json:"start_time,omitempty"`
	EndTime        *float64          `json:"end_time,omitempty"`
	Status         string            `json:"status"`
	Language       string            `json:"language,omitempty"`
	AudioSourceURL string            `json:"audio_source_url,omitempty"`
	Content        TranscriptContent `json:"content"`
	LockHolder     string            `json:"-"`
	LockAcquiredAt *time.Time        `json:"-"`
	ErrorMessage   string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Video is one row of the resource catalog.
type Video struct {
	EntryID         string    `json:"entry_id"`
	Title           string    `json:"title"`
	DurationSeconds float64   `json:"duration_seconds"`
	IsLive          bool      `json:"is_live"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// InFlight reports whether the transcript is in a non-terminal state.
func (t *Transcript) InFlight() bool {
	return t.Status == StatusTranscribing || t.Status == StatusTranscribed ||
		t.Status == StatusIdentifyingSpeakers
}

// WholeResource reports whether this is the primary (null range) row.
func (t *Transcript) WholeResource() bool {
	return t.StartTime == nil && t.EndTime == nil
}
