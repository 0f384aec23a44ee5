// Package reporting serves the latest census run over HTTP.
package reporting

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/domain/census"
	"github.com/ehr/census/internal/domain/stay"
	"github.com/ehr/census/internal/platform/batch"
	"github.com/ehr/census/pkg/pagination"
)

// Executor performs one full run. *batch.Pipeline satisfies it.
type Executor interface {
	Execute(ctx context.Context) (*batch.Result, error)
}

// Handler provides HTTP handlers for the report API.
type Handler struct {
	store    *batch.Store
	executor Executor
	running  sync.Mutex
	logger   zerolog.Logger
}

// NewHandler creates a report handler. executor may be nil, in which case
// POST /runs is not available.
func NewHandler(store *batch.Store, executor Executor, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    store,
		executor: executor,
		logger:   logger.With().Str("component", "reporting").Logger(),
	}
}

// RegisterRoutes registers the report API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/runs/latest", h.LatestRun)
	api.POST("/runs", h.TriggerRun)
	api.GET("/stays", h.ListStays)
	api.GET("/census", h.ListCensus)
	api.GET("/rejections", h.ListRejections)
	api.GET("/measures", h.ListMeasures)
	api.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// RunSummary describes a completed run.
type RunSummary struct {
	RunID       uuid.UUID `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Encounters  int       `json:"encounters"`
	Events      int       `json:"events"`
	Stays       int       `json:"stays"`
	Rejected    int       `json:"rejected"`
	Hours       int       `json:"census_hours"`
	Units       []string  `json:"units"`
	Columns     []string  `json:"columns"`
}

func summarize(res *batch.Result) RunSummary {
	return RunSummary{
		RunID:       res.RunID,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
		WindowStart: res.WindowStart,
		WindowEnd:   res.WindowEnd,
		Encounters:  res.Encounters,
		Events:      res.Events,
		Stays:       len(res.Stays),
		Rejected:    len(res.Rejections),
		Hours:       len(res.Census.Rows),
		Units:       res.Census.Units,
		Columns:     res.Census.Columns,
	}
}

func (h *Handler) latest() (*batch.Result, error) {
	res, err := h.store.Latest()
	if errors.Is(err, batch.ErrNoRun) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "no census run has completed yet")
	}
	return res, err
}

// LatestRun returns the summary of the latest run.
func (h *Handler) LatestRun(c echo.Context) error {
	res, err := h.latest()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summarize(res))
}

// TriggerRun reloads the source and runs a new batch. Only one run may be in
// flight.
func (h *Handler) TriggerRun(c echo.Context) error {
	if h.executor == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "runs cannot be triggered on this server")
	}
	if !h.running.TryLock() {
		return echo.NewHTTPError(http.StatusConflict, "a run is already in progress")
	}
	defer h.running.Unlock()

	res, err := h.executor.Execute(c.Request().Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("triggered run failed")
		if res == nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		// The run completed but an export failed.
		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"run":   summarize(res),
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusCreated, summarize(res))
}

// ListStays returns stays of the latest run, filtered by har, unit and
// status.
func (h *Handler) ListStays(c echo.Context) error {
	res, err := h.latest()
	if err != nil {
		return err
	}

	var har int64
	if v := c.QueryParam("har"); v != "" {
		if har, err = strconv.ParseInt(v, 10, 64); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "har must be an integer")
		}
	}
	unit := c.QueryParam("unit")
	status := stay.Status(c.QueryParam("status"))

	stays := make([]stay.Stay, 0, len(res.Stays))
	for _, s := range res.Stays {
		if har != 0 && s.HAR != har {
			continue
		}
		if unit != "" && s.Unit != unit {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		stays = append(stays, s)
	}
	return page(c, stays)
}

// CensusRow is one hour of the census as served by the API.
type CensusRow struct {
	Timestamp time.Time          `json:"timestamp"`
	Hour      int                `json:"hour"`
	Weekday   string             `json:"weekday"`
	Total     float64            `json:"total_census"`
	Units     map[string]float64 `json:"units"`
	Extra     map[string]float64 `json:"extra,omitempty"`
}

// ListCensus returns hourly rows of the latest run. unit narrows the unit
// columns to one unit; from and to (RFC 3339) bound the hours returned.
func (h *Handler) ListCensus(c echo.Context) error {
	res, err := h.latest()
	if err != nil {
		return err
	}

	unit := c.QueryParam("unit")
	if unit != "" && !slices.Contains(res.Census.Units, unit) {
		return echo.NewHTTPError(http.StatusNotFound, "unit has no stays in this run")
	}
	from, err := timeParam(c, "from")
	if err != nil {
		return err
	}
	to, err := timeParam(c, "to")
	if err != nil {
		return err
	}

	rows := make([]CensusRow, 0, len(res.Census.Rows))
	for _, r := range res.Census.Rows {
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !r.Timestamp.Before(to) {
			continue
		}
		rows = append(rows, censusRow(r, unit))
	}
	return page(c, rows)
}

func censusRow(r census.Row, unit string) CensusRow {
	row := CensusRow{
		Timestamp: r.Timestamp,
		Hour:      r.Hour,
		Weekday:   r.Weekday,
		Total:     r.Total,
		Units:     r.Units,
		Extra:     r.Extra,
	}
	if unit != "" {
		row.Units = map[string]float64{unit: r.Units[unit]}
	}
	return row
}

func timeParam(c echo.Context, name string) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
	}
	return t, nil
}

// ListRejections returns the encounters the latest run could not reconcile.
func (h *Handler) ListRejections(c echo.Context) error {
	res, err := h.latest()
	if err != nil {
		return err
	}
	rejections := res.Rejections
	if rejections == nil {
		rejections = []batch.Rejection{}
	}
	return page(c, rejections)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	RunID       uuid.UUID                `json:"run_id"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
}

// EvaluateMeasure computes a measure over the latest run.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}
	res, err := h.latest()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		RunID:       res.RunID,
		GeneratedAt: time.Now().UTC(),
		Results:     measure.eval(res),
	})
}

func page[T any](c echo.Context, items []T) error {
	p := pagination.FromContext(c)
	resp := pagination.NewResponse(pagination.Page(items, p), len(items), p)
	return c.JSON(http.StatusOK, resp.WithLinks(c.Request().URL))
}
