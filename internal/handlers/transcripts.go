package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/un-fck/webtv.unfck.org/internal/pipeline"
	"github.com/un-fck/webtv.unfck.org/internal/speakers"
	"github.com/un-fck/webtv.unfck.org/internal/store"
	"github.com/un-fck/webtv.unfck.org/internal/types"
)

// TranscriptHandler serves transcription submission and transcript reads.
type TranscriptHandler struct {
	orchestrator *pipeline.Orchestrator
	store        *store.Store
	log          *logrus.Entry
}

func NewTranscriptHandler(o *pipeline.Orchestrator, st *store.Store, log *logrus.Entry) *TranscriptHandler {
	return &TranscriptHandler{orchestrator: o, store: st, log: log}
}

type transcribeRequest struct {
	ResourceID string   `json:"resourceId"`
	Force      bool     `json:"force"`
	StartTime  *float64 `json:"startTime"`
	EndTime    *float64 `json:"endTime"`
}

// Transcribe handles POST /api/transcribe.
func (h *TranscriptHandler) Transcribe(c *fiber.Ctx) error {
	var req transcribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.ResourceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "resourceId is required"})
	}

	res, err := h.orchestrator.Transcribe(c.Context(), pipeline.Request{
		ResourceID: req.ResourceID,
		Force:      req.Force,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(res)
}

// Status handles GET /api/transcripts/:id.
func (h *TranscriptHandler) Status(c *fiber.Ctx) error {
	res, err := h.orchestrator.Status(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(fiber.Map{
		"status":          res.Stage,
		"statements":      res.Statements,
		"topics":          res.Topics,
		"reform_topics":   res.ReformTopics,
		"raw_paragraphs":  res.RawParagraphs,
		"speakerMappings": res.SpeakerMapping,
		"error":           res.Error,
	})
}

// Full handles GET /api/transcripts/:id/full: the read-only enriched view
// with video metadata and affiliation codes expanded to display names.
func (h *TranscriptHandler) Full(c *fiber.Ctx) error {
	t, err := h.store.GetTranscript(c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}

	mapping, err := h.store.GetSpeakerMapping(t.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return writeError(c, h.log, err)
	}
	expanded := make(map[string]fiber.Map, len(mapping))
	for idx, info := range mapping {
		expanded[idx] = fiber.Map{
			"name":        info.Name,
			"function":    info.Function,
			"affiliation": speakers.ExpandAffiliation(info.Affiliation),
			"group":       info.Group,
		}
	}

	var video *types.Video
	if v, err := h.store.GetVideo(t.EntryID); err == nil {
		video = v
	}

	return c.JSON(fiber.Map{
		"video": video,
		"transcript": fiber.Map{
			"transcriptId": t.ID,
			"entryId":      t.EntryID,
			"status":       t.Status,
			"language":     t.Language,
			"startTime":    t.StartTime,
			"endTime":      t.EndTime,
			"updatedAt":    t.UpdatedAt,
		},
		"statements":      t.Content.Statements,
		"topics":          t.Content.Topics,
		"reform_topics":   t.Content.ReformTopics,
		"speakerMappings": expanded,
	})
}

// List handles GET /api/videos/:id/transcripts: every row (whole plus
// segments) for a resource, for the gap view.
func (h *TranscriptHandler) List(c *fiber.Ctx) error {
	rows, err := h.store.ListByEntry(c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	out := make([]fiber.Map, 0, len(rows))
	for _, t := range rows {
		out = append(out, fiber.Map{
			"transcriptId": t.ID,
			"status":       t.Status,
			"startTime":    t.StartTime,
			"endTime":      t.EndTime,
			"language":     t.Language,
			"updatedAt":    t.UpdatedAt,
		})
	}
	return c.JSON(fiber.Map{"transcripts": out})
}
