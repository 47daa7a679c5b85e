package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/marketplace/internal/logging"
	mw "github.com/Skotchmaster/marketplace/internal/middleware"
	"github.com/Skotchmaster/marketplace/internal/service"
)

type OrderHTTP struct {
	Svc *service.OrderService
}

func (h *OrderHTTP) PlaceOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "orders.place")

	var req itemRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "place_order_error", "invalid body", err)
	}

	o, err := h.Svc.PlaceOrder(ctx, mw.ActorFrom(c), req.ProductID, req.Quantity)
	if err != nil {
		return fail(l, "place_order_error", err)
	}

	l.Info("order_placed", "order_id", o.ID, "product_id", o.ProductID, "quantity", o.Quantity)
	return c.JSON(http.StatusCreated, o)
}

func (h *OrderHTTP) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "orders.list")

	orders, err := h.Svc.ListOrders(ctx, mw.ActorFrom(c))
	if err != nil {
		return fail(l, "list_orders_error", err)
	}

	return c.JSON(http.StatusOK, orders)
}
