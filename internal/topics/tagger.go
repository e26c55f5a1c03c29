package topics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/un-fck/webtv.unfck.org/internal/types"
)

// ChatCompleter is the slice of the OpenAI-compatible client the tagger
// needs. *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Stats summarises one tagging pass. Failures degrade individual sentences
// to empty tags; they never abort the batch.
type Stats struct {
	Sentences int
	Tagged    int
	Failed    int
}

// Tagger classifies sentences against the general and reform taxonomies.
// Each sentence gets its own classification call with a local context
// window, fanned out across a bounded number of workers.
type Tagger struct {
	chat        ChatCompleter
	model       string
	concurrency int
	window      int
	log         *logrus.Entry
}

func NewTagger(chat ChatCompleter, model string, concurrency, window int, log *logrus.Entry) *Tagger {
	if concurrency < 1 {
		concurrency = 1
	}
	if window < 0 {
		window = 0
	}
	return &Tagger{chat: chat, model: model, concurrency: concurrency, window: window, log: log}
}

// sentenceRef addresses one sentence inside the statement hierarchy.
type sentenceRef struct {
	stmt, para, sent int
}

// Tag returns a copy of stmts with topic keys filled in per sentence.
// Results are written back by explicit index, so worker completion order is
// irrelevant. Running Tag twice with a deterministic classifier yields
// identical tag sets.
func (t *Tagger) Tag(ctx context.Context, stmts []types.Statement) ([]types.Statement, Stats) {
	out := cloneStatements(stmts)

	var refs []sentenceRef
	var flat []string
	for i := range out {
		for j := range out[i].Paragraphs {
			for k := range out[i].Paragraphs[j].Sentences {
				refs = append(refs, sentenceRef{i, j, k})
				flat = append(flat, out[i].Paragraphs[j].Sentences[k].Text)
			}
		}
	}

	stats := Stats{Sentences: len(refs)}
	if len(refs) == 0 {
		return out, stats
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, t.concurrency)
	)

	for n := range refs {
		wg.Add(1)
		go func(ord int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			general, reform, err := t.classify(ctx, flat, ord)

			ref := refs[ord]
			sentence := &out[ref.stmt].Paragraphs[ref.para].Sentences[ref.sent]

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Degraded, not fatal: the sentence keeps an empty tag
				// list rather than being dropped.
				sentence.TopicKeys = []string{}
				sentence.ReformTopicKeys = []string{}
				stats.Failed++
				t.log.WithError(err).WithField("sentence", ord).Warn("sentence tagging failed")
				return
			}
			sentence.TopicKeys = general
			sentence.ReformTopicKeys = reform
			if len(general)+len(reform) > 0 {
				stats.Tagged++
			}
		}(n)
	}
	wg.Wait()

	t.log.WithFields(logrus.Fields{
		"sentences": stats.Sentences,
		"tagged":    stats.Tagged,
		"failed":    stats.Failed,
	}).Info("topic tagging pass finished")
	return out, stats
}

// Dictionaries collects the taxonomy entries referenced by the tagged
// statements, for embedding into the transcript content.
func Dictionaries(stmts []types.Statement) (general, reform map[string]types.Topic) {
	var gKeys, rKeys []string
	for _, st := range stmts {
		for _, p := range st.Paragraphs {
			for _, s := range p.Sentences {
				gKeys = append(gKeys, s.TopicKeys...)
				rKeys = append(rKeys, s.ReformTopicKeys...)
			}
		}
	}
	return General.Entries(gKeys), Reform.Entries(rKeys)
}

type tagResponse struct {
	Topics       []string `json:"topics"`
	ReformTopics []string `json:"reform_topics"`
}

func (t *Tagger) classify(ctx context.Context, flat []string, ord int) ([]string, []string, error) {
	resp, err := t.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       t.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: taggerPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: t.buildWindow(flat, ord)},
		},
	})
	if err != nil {
		return nil, nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, nil, fmt.Errorf("classifier returned no choices")
	}

	content := resp.Choices[0].Message.Content
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, nil, fmt.Errorf("no JSON object in classifier output")
	}
	var parsed tagResponse
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return nil, nil, fmt.Errorf("decode classifier output: %w", err)
	}

	return filterKeys(parsed.Topics, General), filterKeys(parsed.ReformTopics, Reform), nil
}

// buildWindow renders the target sentence with up to `window` neighbours on
// each side for local context.
func (t *Tagger) buildWindow(flat []string, ord int) string {
	lo := ord - t.window
	if lo < 0 {
		lo = 0
	}
	hi := ord + t.window
	if hi > len(flat)-1 {
		hi = len(flat) - 1
	}

	var b strings.Builder
	b.WriteString("Context:\n")
	for i := lo; i <= hi; i++ {
		marker := "  "
		if i == ord {
			marker = ">>"
		}
		fmt.Fprintf(&b, "%s %s\n", marker, flat[i])
	}
	b.WriteString("\nClassify only the sentence marked with >>.")
	return b.String()
}

func taggerPrompt() string {
	var b strings.Builder
	b.WriteString("You classify one sentence from a formal proceeding against two fixed taxonomies. Use only the listed keys. A sentence with no matching topic gets empty lists; that is a normal answer.\n\nGeneral topics:\n")
	writeTaxonomy(&b, General)
	b.WriteString("\nReform topics:\n")
	writeTaxonomy(&b, Reform)
	b.WriteString("\nRespond with ONLY JSON: {\"topics\":[...],\"reform_topics\":[...]}")
	return b.String()
}

func writeTaxonomy(b *strings.Builder, t Taxonomy) {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %s\n", k, t[k].Label)
	}
}

func filterKeys(keys []string, taxonomy Taxonomy) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool)
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if taxonomy.Has(k) && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func cloneStatements(stmts []types.Statement) []types.Statement {
	out := make([]types.Statement, len(stmts))
	copy(out, stmts)
	for i := range out {
		paras := make([]types.Paragraph, len(out[i].Paragraphs))
		copy(paras, out[i].Paragraphs)
		for j := range paras {
			sents := make([]types.Sentence, len(paras[j].Sentences))
			copy(sents, paras[j].Sentences)
			paras[j].Sentences = sents
		}
		out[i].Paragraphs = paras
	}
	return out
}
