package api

import (
	"errors"
	"time"

	"marketsync/internal/domain/models"
	"marketsync/internal/usecase"
	xhttp "marketsync/pkg/http"
	xlogger "marketsync/pkg/logger"
	"marketsync/pkg/util"

	"github.com/labstack/echo/v4"
)

// MarketHandler serves the historical candle endpoints.
type MarketHandler struct {
	logger *xlogger.Logger
	hist   *usecase.HistoricalSync
}

func NewMarketHandler(logger *xlogger.Logger, hist *usecase.HistoricalSync) *MarketHandler {
	return &MarketHandler{logger: logger, hist: hist}
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/candles", h.Candles)
	g.GET("/sync-status", h.SyncStatus)
}

func (h *MarketHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	from, ok := util.ParseEpochMs(req.From)
	if !ok {
		return xhttp.BadRequestResponse(c, "from must be RFC3339 or a unix timestamp")
	}
	to := time.Now().UnixMilli()
	if req.To != "" {
		if to, ok = util.ParseEpochMs(req.To); !ok {
			return xhttp.BadRequestResponse(c, "to must be RFC3339 or a unix timestamp")
		}
	}

	bars, err := h.hist.GetSeries(c.Request().Context(), usecase.GetSeriesParams{
		Symbol:   req.Symbol,
		Interval: req.Interval,
		From:     from,
		To:       to,
	})
	if err != nil {
		if errors.Is(err, usecase.ErrValidation) {
			return xhttp.BadRequestResponse(c, err.Error())
		}
		h.logger.Error("candles usecase error", xlogger.Error(err))
		return xhttp.InternalErrorResponse(c)
	}
	return xhttp.SuccessResponse(c, bars)
}

func (h *MarketHandler) SyncStatus(c echo.Context) error {
	req := &models.SyncStatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, ok := h.hist.Status(c.Request().Context(), req.Symbol, req.Interval)
	if !ok {
		return xhttp.SuccessResponse(c, usecase.SyncStatus{Status: "unknown"})
	}
	return xhttp.SuccessResponse(c, st)
}
