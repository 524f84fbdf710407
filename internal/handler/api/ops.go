package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	drepo "SigPull/internal/domain/repository"
	"SigPull/internal/usecase"
	xhttp "SigPull/pkg/http"
	xlogger "SigPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// OpsHandler exposes the minimal operator surface: health, signal queries,
// the retention delete, backfill status and the full-scan trigger.
type OpsHandler struct {
	logger   *xlogger.Logger
	store    drepo.SignalStore
	ckpt     drepo.CheckpointStore
	upstream drepo.MessageSource
	proc     *usecase.Processor
	scan     *usecase.FullScan
}

func NewOpsHandler(lgr *xlogger.Logger, store drepo.SignalStore, ckpt drepo.CheckpointStore, upstream drepo.MessageSource, proc *usecase.Processor, scan *usecase.FullScan) *OpsHandler {
	return &OpsHandler{logger: lgr, store: store, ckpt: ckpt, upstream: upstream, proc: proc, scan: scan}
}

func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/readyz", h.Ready)

	g := e.Group("/ops")
	g.GET("/signals", h.Signals)
	g.DELETE("/signals", h.DeleteSignals)
	g.GET("/backfill", h.BackfillStatus)
	g.POST("/full-scan", h.TriggerFullScan)
	g.GET("/full-scan", h.FullScanStatus)
}

func (h *OpsHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *OpsHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Health(ctx); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("store unavailable: %v", err))
	}
	upstreamOK := h.upstream.TestConnection(ctx)
	return xhttp.SuccessResponse(c, map[string]any{
		"store":    "ok",
		"upstream": upstreamOK,
	})
}

// SignalsRequest filters the signal query.
type SignalsRequest struct {
	Channel string `query:"channel"`
	Asset   string `query:"asset"`
	Limit   int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

func (h *OpsHandler) Signals(c echo.Context) error {
	req := &SignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.store.Query(c.Request().Context(), drepo.SignalFilter{
		Channel: req.Channel,
		Asset:   req.Asset,
		Limit:   req.Limit,
	})
	if err != nil {
		h.logger.Error("signal query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OpsHandler) DeleteSignals(c echo.Context) error {
	after, ok := xhttp.ParseTime(c.QueryParam("ingested_after"))
	if !ok {
		return xhttp.BadRequestResponse(c, "ingested_after must be RFC3339 or unix seconds")
	}
	if err := h.store.DeleteIngestedAfter(c.Request().Context(), after); err != nil {
		h.logger.Error("signal delete failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	// deleted keys may still sit in the seen set; a redelivery of the same
	// content must reach the store again
	h.proc.FlushSeen()
	return xhttp.NoContentResponse(c)
}

func (h *OpsHandler) BackfillStatus(c echo.Context) error {
	cp, err := h.ckpt.ReadCheckpoint(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	if cp == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no backfill has run"))
	}
	return xhttp.SuccessResponse(c, map[string]any{
		"completed":    cp.Completed,
		"completed_at": cp.CompletedAt,
		"total_synced": cp.TotalSynced,
		"batches_run":  cp.BatchesRun,
		"duration_ms":  cp.DurationMs,
	})
}

// TriggerFullScan launches a scan in the background; long sweeps should not
// hold the request open.
func (h *OpsHandler) TriggerFullScan(c echo.Context) error {
	if h.scan.Running() {
		return xhttp.DataResponse(c, http.StatusConflict, "scan already in progress")
	}
	go func() {
		if _, err := h.scan.Run(context.Background()); err != nil && !errors.Is(err, usecase.ErrScanInProgress) {
			h.logger.Error("full scan failed", xlogger.Error(err))
		}
	}()
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]bool{"started": true})
}

func (h *OpsHandler) FullScanStatus(c echo.Context) error {
	report := h.scan.LastReport()
	return xhttp.SuccessResponse(c, map[string]any{
		"running": h.scan.Running(),
		"last":    report,
	})
}
