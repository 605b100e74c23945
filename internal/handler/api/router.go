package api

import "github.com/labstack/echo/v4"

// Router bundles every handler group behind one RegisterRoutes.
type Router struct {
	market *MarketHandler
	stream *StreamHandler
}

func NewRouter(market *MarketHandler, stream *StreamHandler) *Router {
	return &Router{market: market, stream: stream}
}

func (r *Router) RegisterRoutes(e *echo.Echo) {
	r.market.RegisterRoutes(e)
	r.stream.RegisterRoutes(e)
}
