package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/un-fck/webtv.unfck.org/internal/pipeline"
)

// PipelineHandler serves the enrichment triggers and gap analysis.
type PipelineHandler struct {
	orchestrator *pipeline.Orchestrator
	log          *logrus.Entry
}

func NewPipelineHandler(o *pipeline.Orchestrator, log *logrus.Entry) *PipelineHandler {
	return &PipelineHandler{orchestrator: o, log: log}
}

// IdentifySpeakers handles POST /api/transcripts/:id/speakers. Lock
// contention surfaces as 409.
func (h *PipelineHandler) IdentifySpeakers(c *fiber.Ctx) error {
	res, err := h.orchestrator.IdentifySpeakers(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(fiber.Map{
		"mapping":       res.SpeakerMapping,
		"statements":    res.Statements,
		"topics":        res.Topics,
		"reform_topics": res.ReformTopics,
	})
}

// TagTopics handles POST /api/transcripts/:id/topics: an independent
// re-tagging pass against the current taxonomy.
func (h *PipelineHandler) TagTopics(c *fiber.Ctx) error {
	res, err := h.orchestrator.TagTopics(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(res)
}

type gapRequest struct {
	ResourceID    string   `json:"resourceId"`
	CurrentTime   *float64 `json:"currentTime"`
	TotalDuration *float64 `json:"totalDuration"`
	IsComplete    bool     `json:"isComplete"`
}

// Gaps handles POST /api/gaps.
func (h *PipelineHandler) Gaps(c *fiber.Ctx) error {
	var req gapRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.ResourceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "resourceId is required"})
	}

	report, err := h.orchestrator.Gaps(c.Context(), pipeline.GapRequest{
		ResourceID:    req.ResourceID,
		CurrentTime:   req.CurrentTime,
		TotalDuration: req.TotalDuration,
		IsComplete:    req.IsComplete,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(report)
}
