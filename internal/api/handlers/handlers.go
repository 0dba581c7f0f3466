package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/closeness/sweeper/internal/api/middleware"
	"github.com/closeness/sweeper/internal/db"
	"github.com/closeness/sweeper/internal/models"
	"github.com/closeness/sweeper/internal/queue"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 200
)

// RunStore reads the run history.
type RunStore interface {
	ListRecent(ctx context.Context, limit, offset int) ([]*models.CycleRun, error)
	Get(ctx context.Context, id uuid.UUID) (*models.CycleRun, error)
}

// CleanupEnqueuer queues an on-demand cleanup cycle.
type CleanupEnqueuer interface {
	EnqueueCleanup(ctx context.Context) (string, error)
}

type Handlers struct {
	runs  RunStore
	queue CleanupEnqueuer
	log   *zap.Logger
}

func NewHandlers(runs RunStore, queue CleanupEnqueuer, log *zap.Logger) *Handlers {
	return &Handlers{
		runs:  runs,
		queue: queue,
		log:   log,
	}
}

// ── Error helpers ─────────────────────────────────────────────────────────────

type errResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	ReqID   string `json:"request_id,omitempty"`
}

func apiErr(c echo.Context, code int, msg string) error {
	reqID, _ := c.Get(middleware.ContextKeyRequestID).(string)
	return c.JSON(code, errResponse{Code: code, Message: msg, ReqID: reqID})
}

// mustOperator extracts the authenticated operator from the Echo context.
func mustOperator(c echo.Context) (string, error) {
	v, ok := c.Get(middleware.ContextKeyOperator).(string)
	if !ok || v == "" {
		return "", apiErr(c, http.StatusInternalServerError, "auth context missing")
	}
	return v, nil
}

// ── Run Handlers ──────────────────────────────────────────────────────────────

type listRunsResponse struct {
	Runs   []*models.CycleRun `json:"runs"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

func (h *Handlers) ListRuns(c echo.Context) error {
	limit, offset := defaultRunLimit, 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return apiErr(c, http.StatusBadRequest, "invalid limit")
		}
		limit = min(n, maxRunLimit)
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return apiErr(c, http.StatusBadRequest, "invalid offset")
		}
		offset = n
	}

	runs, err := h.runs.ListRecent(c.Request().Context(), limit, offset)
	if err != nil {
		h.log.Error("list runs", zap.Error(err))
		return apiErr(c, http.StatusInternalServerError, "failed to list runs")
	}

	return c.JSON(http.StatusOK, listRunsResponse{Runs: runs, Limit: limit, Offset: offset})
}

func (h *Handlers) GetRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("run_id"))
	if err != nil {
		return apiErr(c, http.StatusBadRequest, "invalid run id")
	}

	run, err := h.runs.Get(c.Request().Context(), id)
	if errors.Is(err, db.ErrRunNotFound) {
		return apiErr(c, http.StatusNotFound, "run not found")
	}
	if err != nil {
		h.log.Error("get run", zap.String("run_id", id.String()), zap.Error(err))
		return apiErr(c, http.StatusInternalServerError, "failed to get run")
	}

	return c.JSON(http.StatusOK, run)
}

type triggerRunResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TriggerRun enqueues an immediate cleanup cycle.
func (h *Handlers) TriggerRun(c echo.Context) error {
	operator, err := mustOperator(c)
	if err != nil {
		return err
	}

	taskID, err := h.queue.EnqueueCleanup(c.Request().Context())
	if errors.Is(err, queue.ErrAlreadyQueued) {
		h.log.Info("cleanup run already queued", zap.String("operator", operator))
		return apiErr(c, http.StatusConflict, "a cleanup run is already queued")
	}
	if err != nil {
		h.log.Error("enqueue cleanup", zap.String("operator", operator), zap.Error(err))
		return apiErr(c, http.StatusInternalServerError, "failed to enqueue cleanup run")
	}

	h.log.Info("cleanup run enqueued", zap.String("operator", operator), zap.String("task_id", taskID))
	return c.JSON(http.StatusAccepted, triggerRunResponse{TaskID: taskID, Status: "queued"})
}
