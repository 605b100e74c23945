package api

import (
	"encoding/json"
	"net/http"

	"marketsync/internal/usecase"
	xlogger "marketsync/pkg/logger"
	"marketsync/pkg/ws"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamHandler serves the websocket subscription endpoints. Connecting
// starts the corresponding background loop; the loops shut themselves down
// once the last subscriber disconnects.
type StreamHandler struct {
	logger  *xlogger.Logger
	hub     *ws.Hub
	tickers *usecase.TickerAggregator
	orders  *usecase.OrderTracker
}

func NewStreamHandler(logger *xlogger.Logger, hub *ws.Hub, tickers *usecase.TickerAggregator, orders *usecase.OrderTracker) *StreamHandler {
	return &StreamHandler{logger: logger, hub: hub, tickers: tickers, orders: orders}
}

func (h *StreamHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/ws")
	g.GET("/tickers", h.Tickers)
	g.GET("/orders", h.Orders)
}

// Tickers streams the aggregated ticker batches. A new subscriber gets the
// last known snapshot immediately so the first flush interval is not a
// blank screen.
func (h *StreamHandler) Tickers(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	session := ws.NewSession(conn, "")
	h.hub.Add(usecase.RouteTickers, session)
	defer h.hub.Remove(usecase.RouteTickers, session)

	if snap := h.tickers.LastSnapshot(c.Request().Context()); len(snap) > 0 {
		if data, merr := json.Marshal(snap); merr == nil {
			session.Send(data)
		}
	}
	h.tickers.Start()

	session.Run()
	return nil
}

// Orders streams reconciliation updates for one user's tracked orders.
func (h *StreamHandler) Orders(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id required")
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	session := ws.NewSession(conn, userID)
	h.hub.Add(usecase.RouteOrders, session)
	defer h.hub.Remove(usecase.RouteOrders, session)

	h.orders.Subscribe(userID)
	h.logger.Info("order stream connected", xlogger.String("user", userID))

	session.Run()
	return nil
}
