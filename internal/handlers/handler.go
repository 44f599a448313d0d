package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ad/go-villa-onboarding/internal/catalog"
	"github.com/ad/go-villa-onboarding/internal/db"
	"github.com/ad/go-villa-onboarding/internal/models"
	"github.com/ad/go-villa-onboarding/internal/services"
)

var validate = validator.New()

// Handler wires the onboarding engine to its HTTP surface. The engine does
// no rate limiting; burst shaping on the auto-save path is the caller's job.
type Handler struct {
	engine      *services.ProgressEngine
	tracker     *services.SessionTracker
	validator   *services.ValidationService
	skippedRepo *db.SkippedItemRepository
}

func NewHandler(engine *services.ProgressEngine, tracker *services.SessionTracker, validationSvc *services.ValidationService, skippedRepo *db.SkippedItemRepository) *Handler {
	return &Handler{
		engine:      engine,
		tracker:     tracker,
		validator:   validationSvc,
		skippedRepo: skippedRepo,
	}
}

// Router builds the gin engine with every route the wizard frontend calls.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	entities := r.Group("/entities/:entityID")
	{
		entities.POST("/onboarding", h.initialize)
		entities.GET("/progress", h.getProgress)
		entities.POST("/steps/:step", h.stepUpdate)
		entities.PUT("/steps/:step/fields/:fieldKey", h.saveField)
		entities.POST("/steps/:step/skip", h.skip)
		entities.POST("/steps/:step/unskip", h.unskip)
		entities.GET("/steps/:step/validation", h.validateStep)
		entities.POST("/submit", h.submitForReview)
		entities.POST("/complete", h.complete)
		entities.POST("/rewind", h.rewind)
		entities.GET("/skipped", h.listSkipped)
		entities.POST("/sessions", h.startSession)
		entities.POST("/sessions/resume", h.resumeSession)
		entities.DELETE("", h.deleteEntity)
	}

	sessions := r.Group("/sessions/:sessionID")
	{
		sessions.POST("/activity", h.recordActivity)
		sessions.POST("/step-result", h.recordStepResult)
		sessions.POST("/close", h.closeSession)
	}

	return r
}

type progressResponse struct {
	EntityID             string     `json:"entityId"`
	CurrentStep          int        `json:"currentStep"`
	TotalSteps           int        `json:"totalSteps"`
	StepFlags            []bool     `json:"stepFlags"`
	Status               string     `json:"status"`
	SubmittedAt          *time.Time `json:"submittedAt,omitempty"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
	CompletionPercentage int        `json:"completionPercentage"`
	StepPercentage       int        `json:"stepPercentage"`
	AppliedFields        []string   `json:"appliedFields,omitempty"`
}

func toProgressResponse(s *services.ProgressSnapshot) progressResponse {
	return progressResponse{
		EntityID:             s.Progress.EntityID,
		CurrentStep:          s.Progress.CurrentStep,
		TotalSteps:           s.Progress.TotalSteps,
		StepFlags:            s.Progress.StepFlags[:],
		Status:               string(s.Progress.Status),
		SubmittedAt:          s.Progress.SubmittedAt,
		CompletedAt:          s.Progress.CompletedAt,
		CompletionPercentage: s.CompletionPercentage,
		StepPercentage:       s.StepPercentage,
		AppliedFields:        s.AppliedFields,
	}
}

func (h *Handler) initialize(c *gin.Context) {
	progress, err := h.engine.Initialize(c.Param("entityID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"entityId":    progress.EntityID,
		"currentStep": progress.CurrentStep,
		"totalSteps":  progress.TotalSteps,
		"status":      string(progress.Status),
	})
}

func (h *Handler) getProgress(c *gin.Context) {
	entityID := c.Param("entityID")
	snapshot, err := h.engine.Get(entityID)
	if err != nil {
		respondError(c, err)
		return
	}
	summary, err := h.tracker.Snapshot(entityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"progress": toProgressResponse(snapshot),
		"session":  summary,
	})
}

type stepUpdateRequest struct {
	Fields       map[string]interface{} `json:"fields" validate:"required"`
	Completed    bool                   `json:"completed"`
	SessionID    string                 `json:"sessionId"`
	MinutesSpent int                    `json:"minutesSpent" validate:"gte=0"`
	Timestamp    *time.Time             `json:"timestamp"`
}

// stepUpdate applies a batch of field writes. The client timestamp doubles
// as the idempotency anchor: a retried request carries the same timestamp,
// so its field writes re-apply under the monotonic guard and its session
// deltas are rejected as duplicates instead of double-counting.
func (h *Handler) stepUpdate(c *gin.Context) {
	step, ok := stepParam(c)
	if !ok {
		return
	}
	var req stepUpdateRequest
	if !bindJSON(c, &req) {
		return
	}

	ts := time.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	entityID := c.Param("entityID")
	snapshot, err := h.engine.ApplyStepUpdate(entityID, step, req.Fields, req.Completed, ts)
	if err != nil {
		respondError(c, err)
		return
	}

	if req.SessionID != "" {
		for _, key := range snapshot.AppliedFields {
			idemKey := fmt.Sprintf("%d:%s:%d", step, key, ts.UnixNano())
			if _, err := h.tracker.RecordFieldActivity(req.SessionID, idemKey, 1, 0); err != nil {
				respondError(c, err)
				return
			}
		}
		if req.Completed {
			stepKey := fmt.Sprintf("step:%d:%d", step, ts.UnixNano())
			if _, err := h.tracker.RecordStepResult(req.SessionID, snapshot.Progress.CurrentStep, true, false, req.MinutesSpent, stepKey); err != nil {
				respondError(c, err)
				return
			}
		}
	}

	c.JSON(http.StatusOK, toProgressResponse(snapshot))
}

type saveFieldRequest struct {
	Value     interface{} `json:"value"`
	Timestamp *time.Time  `json:"timestamp"`
	SessionID string      `json:"sessionId"`
}

// saveField is the auto-save path. A write older than what is stored is
// acknowledged but ignored; the wizard treats both outcomes as success.
func (h *Handler) saveField(c *gin.Context) {
	step, ok := stepParam(c)
	if !ok {
		return
	}
	var req saveFieldRequest
	if !bindJSON(c, &req) {
		return
	}

	ts := time.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	entityID := c.Param("entityID")
	fieldKey := c.Param("fieldKey")
	applied, err := h.engine.SaveField(entityID, step, fieldKey, req.Value, ts)
	if err != nil {
		respondError(c, err)
		return
	}

	if applied && req.SessionID != "" {
		idemKey := fmt.Sprintf("%d:%s:%d", step, fieldKey, ts.UnixNano())
		if _, err := h.tracker.RecordFieldActivity(req.SessionID, idemKey, 1, 0); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"applied": applied})
}

type skipRequest struct {
	FieldKey  string     `json:"fieldKey"`
	Reason    string     `json:"reason" validate:"required"`
	SessionID string     `json:"sessionId"`
	Timestamp *time.Time `json:"timestamp"`
}

func (h *Handler) skip(c *gin.Context) {
	step, ok := stepParam(c)
	if !ok {
		return
	}
	var req skipRequest
	if !bindJSON(c, &req) {
		return
	}

	entityID := c.Param("entityID")
	var err error
	if req.FieldKey == "" {
		err = h.engine.SkipStep(entityID, step, req.Reason)
	} else {
		err = h.engine.SkipField(entityID, step, req.FieldKey, req.Reason)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if req.SessionID != "" {
		ts := time.Now()
		if req.Timestamp != nil {
			ts = *req.Timestamp
		}
		idemKey := fmt.Sprintf("skip:%d:%s:%d", step, req.FieldKey, ts.UnixNano())
		if _, err := h.tracker.RecordFieldActivity(req.SessionID, idemKey, 0, 1); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "skipped"})
}

type unskipRequest struct {
	FieldKey string `json:"fieldKey" validate:"required"`
}

func (h *Handler) unskip(c *gin.Context) {
	step, ok := stepParam(c)
	if !ok {
		return
	}
	var req unskipRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.engine.UnskipField(c.Param("entityID"), step, req.FieldKey); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unskipped"})
}

func (h *Handler) validateStep(c *gin.Context) {
	step, ok := stepParam(c)
	if !ok {
		return
	}
	canAdvance, missing, err := h.validator.CanAdvance(c.Param("entityID"), step)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canAdvance": canAdvance, "missingFields": missing})
}

type submitRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) submitForReview(c *gin.Context) {
	var req submitRequest
	if !bindJSON(c, &req) {
		return
	}

	entityID := c.Param("entityID")
	check, err := h.validator.CanSubmitForReview(entityID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !check.OK {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":        services.ErrNotSubmittable.Error(),
			"missingSteps": check.MissingSteps,
		})
		return
	}

	if err := h.engine.MarkSubmitted(entityID); err != nil {
		respondError(c, err)
		return
	}
	if req.SessionID != "" {
		if err := h.tracker.MarkSubmittedForReview(req.SessionID); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "submitted"})
}

func (h *Handler) complete(c *gin.Context) {
	progress, err := h.engine.Complete(c.Param("entityID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      string(progress.Status),
		"completedAt": progress.CompletedAt,
	})
}

type rewindRequest struct {
	Step int `json:"step" validate:"required,min=1"`
}

func (h *Handler) rewind(c *gin.Context) {
	var req rewindRequest
	if !bindJSON(c, &req) {
		return
	}
	progress, err := h.engine.RewindToStep(c.Param("entityID"), req.Step)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currentStep": progress.CurrentStep})
}

func (h *Handler) listSkipped(c *gin.Context) {
	items, err := h.skippedRepo.ListByEntity(c.Param("entityID"))
	if err != nil {
		respondError(c, err)
		return
	}
	if items == nil {
		items = []*models.SkippedItem{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type startSessionRequest struct {
	UserID string `json:"userId" validate:"required"`
}

func (h *Handler) startSession(c *gin.Context) {
	var req startSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.tracker.StartSession(c.Param("entityID"), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *Handler) resumeSession(c *gin.Context) {
	var req startSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.tracker.ResumeSession(c.Param("entityID"), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) deleteEntity(c *gin.Context) {
	if err := h.engine.DeleteEntityArtifacts(c.Param("entityID")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type activityRequest struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required"`
	CompletedDelta int    `json:"completedDelta" validate:"gte=0"`
	SkippedDelta   int    `json:"skippedDelta" validate:"gte=0"`
}

func (h *Handler) recordActivity(c *gin.Context) {
	var req activityRequest
	if !bindJSON(c, &req) {
		return
	}
	applied, err := h.tracker.RecordFieldActivity(c.Param("sessionID"), req.IdempotencyKey, req.CompletedDelta, req.SkippedDelta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

type stepResultRequest struct {
	CurrentStep    int    `json:"currentStep" validate:"required,min=1"`
	Completed      bool   `json:"completed"`
	Skipped        bool   `json:"skipped"`
	MinutesSpent   int    `json:"minutesSpent" validate:"gte=0"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required"`
}

func (h *Handler) recordStepResult(c *gin.Context) {
	var req stepResultRequest
	if !bindJSON(c, &req) {
		return
	}
	applied, err := h.tracker.RecordStepResult(c.Param("sessionID"), req.CurrentStep, req.Completed, req.Skipped, req.MinutesSpent, req.IdempotencyKey)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

type closeSessionRequest struct {
	Completed bool `json:"completed"`
}

func (h *Handler) closeSession(c *gin.Context) {
	var req closeSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.tracker.CloseSession(c.Param("sessionID"), req.Completed); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func stepParam(c *gin.Context) (int, bool) {
	step, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "step must be an integer"})
		return 0, false
	}
	return step, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func respondError(c *gin.Context, err error) {
	var stepIncomplete *services.StepIncompleteError
	if errors.As(err, &stepIncomplete) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":         "step incomplete",
			"step":          stepIncomplete.Step,
			"missingFields": stepIncomplete.MissingFields,
		})
		return
	}
	var incompleteSteps *services.IncompleteStepsError
	if errors.As(err, &incompleteSteps) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":           "incomplete steps",
			"incompleteSteps": incompleteSteps.Steps,
		})
		return
	}

	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, services.ErrAlreadyInitialized),
		errors.Is(err, services.ErrAlreadyCompleted),
		errors.Is(err, db.ErrSessionClosed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, catalog.ErrUnknownStep),
		errors.Is(err, catalog.ErrInvalidField),
		errors.Is(err, catalog.ErrStepNotSkippable),
		errors.Is(err, services.ErrInvalidStep):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
