package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/roadcall/backend/internal/models"
	"github.com/roadcall/backend/internal/service"
	"github.com/roadcall/backend/internal/state"
)

// Directory is the read/maintenance surface the handlers use alongside the
// coordinator. *db.Store satisfies it.
type Directory interface {
	Ping(ctx context.Context) error
	GetRequest(ctx context.Context, id string) (*models.Request, error)
	ListRequests(ctx context.Context, status string, limit, offset int) ([]models.Request, error)
	GetLatestSweepRun(ctx context.Context) (*models.SweepRun, error)
	SignWaiver(ctx context.Context, id string, now time.Time) (bool, error)
	TouchSessionActivity(ctx context.Context, id string, now time.Time) error
}

type Handler struct {
	Coordinator *service.Coordinator
	Sweeper     *service.Sweeper
	Directory   Directory
	Validator   *validator.Validate
	Logger      zerolog.Logger
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Directory.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type CreateRequestInput struct {
	CustomerID       string     `json:"customer_id" validate:"required"`
	ServiceType      string     `json:"service_type" validate:"required,oneof=chat video diagnostic"`
	PlanCode         string     `json:"plan_code"`
	RequestedBrand   string     `json:"requested_brand"`
	RestrictedBrands []string   `json:"restricted_brands"`
	Urgency          string     `json:"urgency" validate:"omitempty,oneof=immediate scheduled"`
	Concern          string     `json:"concern" validate:"max=2000"`
	ScheduledFor     *time.Time `json:"scheduled_for"`
	ParentSessionID  *string    `json:"parent_session_id"`
}

// @Summary Create a service request
// @Description Opens a pending request; a customer may hold one open request at a time
// @Tags requests
// @Accept json
// @Produce json
// @Param request body CreateRequestInput true "request"
// @Success 201 {object} models.Request
// @Failure 400 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/requests [post]
func (h *Handler) CreateRequest(c *gin.Context) {
	var in CreateRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(in); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	urgency := models.Urgency(in.Urgency)
	if urgency == "" {
		urgency = models.UrgencyImmediate
		if in.ScheduledFor != nil {
			urgency = models.UrgencyScheduled
		}
	}

	req, err := h.Coordinator.Intake(c.Request.Context(), service.IntakeInput{
		CustomerID:       in.CustomerID,
		ServiceType:      models.ServiceType(in.ServiceType),
		PlanCode:         in.PlanCode,
		RequestedBrand:   in.RequestedBrand,
		RestrictedBrands: in.RestrictedBrands,
		Urgency:          urgency,
		Concern:          in.Concern,
		ScheduledFor:     in.ScheduledFor,
		ParentSessionID:  in.ParentSessionID,
	})
	if err != nil {
		if errors.Is(err, service.ErrOpenRequestExists) {
			writeError(c, http.StatusConflict, "OPEN_REQUEST_EXISTS", "Customer already has an open request", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create request", err.Error())
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *Handler) RequestsList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	status := c.Query("status")

	requests, err := h.Directory.ListRequests(c.Request.Context(), status, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list requests", err.Error())
		return
	}
	if requests == nil {
		requests = []models.Request{}
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (h *Handler) RequestDetails(c *gin.Context) {
	req, err := h.Directory.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get request", err.Error())
		return
	}
	if req == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Request not found", nil)
		return
	}
	c.JSON(http.StatusOK, req)
}

type ClaimInput struct {
	WorkerID string `json:"worker_id" validate:"required"`
}

// @Summary Claim a request
// @Description First writer wins; losers get REQUEST_UNAVAILABLE so the UI can drop the entry
// @Tags requests
// @Accept json
// @Produce json
// @Param id path string true "request id"
// @Param claim body ClaimInput true "claim"
// @Success 200 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/requests/{id}/claim [post]
func (h *Handler) Claim(c *gin.Context) {
	var in ClaimInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(in); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	res, err := h.Coordinator.Claim(c.Request.Context(), c.Param("id"), in.WorkerID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRequestNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Request not found", nil)
		case errors.Is(err, service.ErrRequestUnavailable):
			writeError(c, http.StatusConflict, "REQUEST_UNAVAILABLE", "Request no longer available", nil)
		case errors.Is(err, service.ErrWorkerBusy):
			writeError(c, http.StatusConflict, "WORKER_HAS_ACTIVE_SESSION", "Worker already has an active session", nil)
		case errors.Is(err, service.ErrWorkerNotFound):
			writeError(c, http.StatusNotFound, "WORKER_NOT_FOUND", "Worker not found", nil)
		case errors.Is(err, service.ErrWorkerUnavailable):
			writeError(c, http.StatusConflict, "WORKER_UNAVAILABLE", "Worker is not available", nil)
		default:
			writeError(c, http.StatusInternalServerError, "CLAIM_ERROR", "Claim failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": res.SessionID,
		"status":     res.Request.Status,
	})
}

type CancelInput struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) CancelRequest(c *gin.Context) {
	var in CancelInput
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
			return
		}
	}

	err := h.Coordinator.Cancel(c.Request.Context(), c.Param("id"), in.Reason)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRequestNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Request not found", nil)
		case errors.Is(err, service.ErrRequestUnavailable):
			writeError(c, http.StatusConflict, "REQUEST_UNAVAILABLE", "Request is not cancellable", nil)
		default:
			writeError(c, http.StatusInternalServerError, "DB_ERROR", "Cancel failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": state.RequestCancelled})
}

type RankInput struct {
	ServiceType      string   `json:"service_type" validate:"required,oneof=chat video diagnostic"`
	RequestedBrand   string   `json:"requested_brand"`
	RestrictedBrands []string `json:"restricted_brands"`
	Concern          string   `json:"concern" validate:"max=2000"`
	Urgency          string   `json:"urgency" validate:"omitempty,oneof=immediate scheduled"`
	CustomerCountry  string   `json:"customer_country"`
	CustomerCity     string   `json:"customer_city"`
}

// @Summary Rank workers for a set of requirements
// @Description Advisory notification order; does not reserve anything
// @Tags rank
// @Accept json
// @Produce json
// @Param requirements body RankInput true "requirements"
// @Success 200 {object} map[string]any
// @Router /api/rank [post]
func (h *Handler) Rank(c *gin.Context) {
	var in RankInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(in); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	serviceType := models.ServiceType(in.ServiceType)
	candidates, err := h.Coordinator.RankWorkers(c.Request.Context(), models.Requirements{
		ServiceType:           serviceType,
		RequestedBrand:        in.RequestedBrand,
		RestrictedBrands:      in.RestrictedBrands,
		Concern:               in.Concern,
		Urgency:               models.Urgency(in.Urgency),
		CustomerCountry:       in.CustomerCountry,
		CustomerCity:          in.CustomerCity,
		RequiresCertification: serviceType == models.ServiceDiagnostic,
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "RANKING_ERROR", "Ranking failed", err.Error())
		return
	}
	if candidates == nil {
		candidates = []models.Candidate{}
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

// RequestCandidates ranks workers for a stored request. Locale filters come
// from query params; the stored concern drives keyword matching.
func (h *Handler) RequestCandidates(c *gin.Context) {
	req, err := h.Directory.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get request", err.Error())
		return
	}
	if req == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Request not found", nil)
		return
	}

	requirements := service.RequirementsFromRequest(req, c.Query("country"), c.Query("city"))
	candidates, err := h.Coordinator.RankWorkers(c.Request.Context(), requirements)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "RANKING_ERROR", "Ranking failed", err.Error())
		return
	}
	if candidates == nil {
		candidates = []models.Candidate{}
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

func (h *Handler) SessionDetails(c *gin.Context) {
	sess, err := h.Coordinator.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get session", err.Error())
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) StartSession(c *gin.Context) {
	sess, err := h.Coordinator.StartSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) CompleteSession(c *gin.Context) {
	sess, err := h.Coordinator.CompleteSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) CancelSession(c *gin.Context) {
	var in CancelInput
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
			return
		}
	}
	sess, err := h.Coordinator.CancelSession(c.Request.Context(), c.Param("id"), in.Reason)
	if err != nil {
		h.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) SignWaiver(c *gin.Context) {
	ok, err := h.Directory.SignWaiver(c.Request.Context(), c.Param("id"), time.Now().UTC())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to sign waiver", err.Error())
		return
	}
	if !ok {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Session not found or already closed", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "signed"})
}

func (h *Handler) Heartbeat(c *gin.Context) {
	if err := h.Directory.TouchSessionActivity(c.Request.Context(), c.Param("id"), time.Now().UTC()); err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to record activity", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Trigger an expiration sweep
// @Description Runs all sweeper checks once and returns the summary
// @Tags admin
// @Produce json
// @Success 200 {object} models.SweepSummary
// @Router /api/sweep [post]
func (h *Handler) TriggerSweep(c *gin.Context) {
	summary, err := h.Sweeper.Run(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "SWEEP_ERROR", "Sweep failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) SweepsLatest(c *gin.Context) {
	run, err := h.Directory.GetLatestSweepRun(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load sweep runs", err.Error())
		return
	}
	if run == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "No sweep runs found", nil)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) writeSessionError(c *gin.Context, err error) {
	var te *state.TransitionError
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
	case errors.As(err, &te):
		writeError(c, http.StatusConflict, "INVALID_STATE", "Invalid session transition", te.Error())
	default:
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Session update failed", err.Error())
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
