package statements

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"lukechampine.com/blake3"

	"github.com/un-fck/webtv.unfck.org/internal/types"
)

// Build restructures the flat paragraph stream into the statement ->
// paragraph -> sentence hierarchy. It is pure and deterministic: the same
// raw input always yields the same statement count, which matters because
// the speaker mapping is keyed by statement index and re-tagging reuses
// this structure.
//
// Boundary policy: a new statement starts whenever the diarization label
// changes from the previous paragraph. Empty labels continue the current
// statement, since the upstream service omits the label on short fillers.
func Build(raw []types.RawParagraph) []types.Statement {
	if len(raw) == 0 {
		return nil
	}

	ordered := normalize(raw)

	var out []types.Statement
	var current *types.Statement
	lastSpeaker := ""

	for _, rp := range ordered {
		para := buildParagraph(rp)
		boundary := current == nil ||
			(rp.Speaker != "" && lastSpeaker != "" && rp.Speaker != lastSpeaker)

		if boundary {
			out = append(out, types.Statement{StartMs: para.StartMs})
			current = &out[len(out)-1]
		}
		current.Paragraphs = append(current.Paragraphs, para)
		current.EndMs = para.EndMs

		if rp.Speaker != "" {
			lastSpeaker = rp.Speaker
		}
	}
	return out
}

// SourceHash fingerprints the raw paragraph input so a later run can detect
// that statements were built from different material than the persisted
// speaker mapping.
func SourceHash(raw []types.RawParagraph) string {
	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// normalize sorts paragraphs by start time and clamps overlapping ranges so
// the output hierarchy is strictly ordered at every level.
func normalize(raw []types.RawParagraph) []types.RawParagraph {
	ordered := make([]types.RawParagraph, len(raw))
	copy(ordered, raw)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartMs < ordered[j].StartMs
	})

	for i := range ordered {
		if ordered[i].EndMs < ordered[i].StartMs {
			ordered[i].EndMs = ordered[i].StartMs
		}
		if i > 0 && ordered[i].StartMs < ordered[i-1].EndMs {
			ordered[i].StartMs = ordered[i-1].EndMs
			if ordered[i].EndMs < ordered[i].StartMs {
				ordered[i].EndMs = ordered[i].StartMs
			}
		}
	}
	return ordered
}

func buildParagraph(rp types.RawParagraph) types.Paragraph {
	para := types.Paragraph{
		Speaker: rp.Speaker,
		StartMs: rp.StartMs,
		EndMs:   rp.EndMs,
	}
	para.Sentences = splitSentences(rp)
	if len(para.Sentences) > 0 {
		// Paragraph bounds contain every sentence by construction; keep the
		// paragraph range authoritative.
		first := &para.Sentences[0]
		last := &para.Sentences[len(para.Sentences)-1]
		if first.StartMs < para.StartMs {
			first.StartMs = para.StartMs
		}
		if last.EndMs > para.EndMs {
			last.EndMs = para.EndMs
		}
	}
	return para
}

// splitSentences cuts paragraph text on terminal punctuation and assigns
// word timings. Without word-level timing, sentence ranges are apportioned
// by text length inside the paragraph range.
func splitSentences(rp types.RawParagraph) []types.Sentence {
	texts := splitText(rp.Text)
	if len(texts) == 0 {
		return nil
	}

	sentences := make([]types.Sentence, 0, len(texts))

	if len(rp.Words) > 0 {
		wordIdx := 0
		prevEnd := rp.StartMs
		for _, text := range texts {
			n := len(strings.Fields(text))
			s := types.Sentence{Text: text, StartMs: prevEnd, EndMs: prevEnd}
			if wordIdx < len(rp.Words) {
				end := wordIdx + n
				if end > len(rp.Words) {
					end = len(rp.Words)
				}
				chunk := rp.Words[wordIdx:end]
				if len(chunk) > 0 {
					s.Words = chunk
					s.StartMs = chunk[0].StartMs
					s.EndMs = chunk[len(chunk)-1].EndMs
				}
				wordIdx = end
			}
			// Clamp so siblings never overlap and stay inside the
			// paragraph even with sloppy upstream word timings.
			if s.StartMs < prevEnd {
				s.StartMs = prevEnd
			}
			if s.StartMs > rp.EndMs {
				s.StartMs = rp.EndMs
			}
			if s.EndMs > rp.EndMs {
				s.EndMs = rp.EndMs
			}
			if s.EndMs < s.StartMs {
				s.EndMs = s.StartMs
			}
			prevEnd = s.EndMs
			sentences = append(sentences, s)
		}
		return sentences
	}

	total := 0
	for _, t := range texts {
		total += utf8.RuneCountInString(t)
	}
	if total == 0 {
		total = 1
	}
	span := rp.EndMs - rp.StartMs
	cursor := rp.StartMs
	for i, text := range texts {
		length := utf8.RuneCountInString(text)
		end := cursor + span*int64(length)/int64(total)
		if i == len(texts)-1 {
			end = rp.EndMs
		}
		sentences = append(sentences, types.Sentence{
			Text:    text,
			StartMs: cursor,
			EndMs:   end,
		})
		cursor = end
	}
	return sentences
}

// splitText breaks text into sentences on '.', '!' and '?' followed by
// whitespace. Abbreviation handling is deliberately minimal; tagging only
// needs stable, reasonable units.
func splitText(text string) []string {
	var out []string
	var b strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			atEnd := i == len(runes)-1
			followedBySpace := !atEnd && unicode.IsSpace(runes[i+1])
			if atEnd || followedBySpace {
				if s := strings.TrimSpace(b.String()); s != "" {
					out = append(out, s)
				}
				b.Reset()
			}
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}
