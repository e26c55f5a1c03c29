package speakers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/un-fck/webtv.unfck.org/internal/types"
)

// ErrNoParsableResult is returned when the classification model produced
// nothing that can be read as a speaker record list.
var ErrNoParsableResult = errors.New("speakers: classifier returned no parsable result")

// ChatCompleter is the slice of the OpenAI-compatible client the attributor
// needs. *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// MappingStore persists a speaker mapping keyed by transcript id.
type MappingStore interface {
	SaveSpeakerMapping(transcriptID string, m types.SpeakerMapping) error
}

// Attributor infers who is speaking in each statement. It makes a single
// classification call over the whole transcript: handoff detection ("I
// invite X to speak") needs cross-statement context that per-statement
// calls would lose.
type Attributor struct {
	chat  ChatCompleter
	store MappingStore
	model string
	log   *logrus.Entry
}

func NewAttributor(chat ChatCompleter, store MappingStore, model string, log *logrus.Entry) *Attributor {
	return &Attributor{chat: chat, store: store, model: model, log: log}
}

const systemPrompt = `You attribute speakers in a transcript of a formal multilingual proceeding (statements by delegates, chairs and officials).

You receive numbered statements. Each is prefixed with an automatic diarization label (A, B, C...). Diarization labels are unreliable: treat them only as hints that the speaker MAY have changed, never as identities.

Rules:
- A statement in which the current speaker yields the floor ("I now invite Mr. X", "I give the floor to the representative of Y") belongs to the person YIELDING the floor, not to the person invited.
- The invited person becomes the speaker only from a later statement that contains a self-referential acknowledgment (thanking the chair, addressing the presidency, introducing themselves).
- Infer name, function/title, affiliation (organisation name or ISO 3166-1 alpha-2 country code) and political/regional group where the text supports it. Use null when it does not.

Respond with ONLY a JSON array, one object per statement index, covering every index:
[{"index":0,"name":...,"function":...,"affiliation":...,"group":...}, ...]`

// statement text sent to the model is capped so very long interventions do
// not blow the context window; the opening of a statement carries the
// identity cues.
const maxStatementChars = 1500

type speakerRecord struct {
	Index       int     `json:"index"`
	Name        *string `json:"name"`
	Function    *string `json:"function"`
	Affiliation *string `json:"affiliation"`
	Group       *string `json:"group"`
}

// Identify classifies every statement and persists the resulting mapping.
// No partial mapping is persisted on failure.
func (a *Attributor) Identify(ctx context.Context, stmts []types.Statement, transcriptID string) (types.SpeakerMapping, error) {
	if len(stmts) == 0 {
		return types.SpeakerMapping{}, nil
	}

	resp, err := a.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(stmts)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("speaker classification call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoParsableResult
	}

	records, err := parseRecords(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if len(records) < len(stmts) {
		a.log.WithFields(logrus.Fields{
			"transcript_id": transcriptID,
			"statements":    len(stmts),
			"records":       len(records),
		}).Warn("classifier returned fewer speaker records than statements")
	}

	mapping := make(types.SpeakerMapping, len(records))
	for _, r := range records {
		if r.Index < 0 || r.Index >= len(stmts) {
			continue
		}
		mapping[strconv.Itoa(r.Index)] = types.SpeakerInfo{
			Name:        deref(r.Name),
			Function:    deref(r.Function),
			Affiliation: deref(r.Affiliation),
			Group:       deref(r.Group),
		}
	}
	if len(mapping) == 0 {
		return nil, ErrNoParsableResult
	}

	if err := a.store.SaveSpeakerMapping(transcriptID, mapping); err != nil {
		return nil, fmt.Errorf("persist speaker mapping: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"transcript_id": transcriptID,
		"speakers":      len(mapping),
	}).Info("speaker mapping persisted")
	return mapping, nil
}

func buildPrompt(stmts []types.Statement) string {
	var b strings.Builder
	b.WriteString("Statements:\n\n")
	for i, st := range stmts {
		label := ""
		var texts []string
		for _, p := range st.Paragraphs {
			if label == "" && p.Speaker != "" {
				label = p.Speaker
			}
			for _, s := range p.Sentences {
				texts = append(texts, s.Text)
			}
		}
		if label == "" {
			label = "?"
		}
		text := truncate(strings.Join(texts, " "), maxStatementChars)
		fmt.Fprintf(&b, "[%d] (diarization: %s) %s\n\n", i, label, text)
	}
	return b.String()
}

// parseRecords pulls the first JSON array out of the model output. Models
// wrap answers in prose or code fences often enough that a plain Unmarshal
// is not good enough.
func parseRecords(content string) ([]speakerRecord, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, ErrNoParsableResult
	}
	var records []speakerRecord
	if err := json.Unmarshal([]byte(content[start:end+1]), &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoParsableResult, err)
	}
	if len(records) == 0 {
		return nil, ErrNoParsableResult
	}
	return records, nil
}

// truncate cuts text to at most max bytes, backing off to a rune boundary
// so multi-byte text is never split mid-sequence.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
