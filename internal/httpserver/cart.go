package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/marketplace/internal/logging"
	mw "github.com/Skotchmaster/marketplace/internal/middleware"
	"github.com/Skotchmaster/marketplace/internal/service"
)

type CartHTTP struct {
	Svc *service.CartService
}

type itemRequest struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

func (h *CartHTTP) GetCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.get")

	view, err := h.Svc.List(ctx, mw.ActorFrom(c))
	if err != nil {
		return fail(l, "get_cart_error", err)
	}

	return c.JSON(http.StatusOK, view)
}

func (h *CartHTTP) AddItem(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.add")

	var req itemRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "add_to_cart_error", "invalid body", err)
	}

	item, err := h.Svc.AddItem(ctx, mw.ActorFrom(c), req.ProductID, req.Quantity)
	if err != nil {
		return fail(l, "add_to_cart_error", err)
	}

	return c.JSON(http.StatusOK, item)
}

func (h *CartHTTP) RemoveItem(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.remove")

	id, err := parseID(c, "product_id")
	if err != nil {
		return badRequest(l, "remove_from_cart_error", "invalid product id", err)
	}

	if err := h.Svc.RemoveItem(ctx, mw.ActorFrom(c), id); err != nil {
		return fail(l, "remove_from_cart_error", err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *CartHTTP) Checkout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.checkout")

	orders, err := h.Svc.Checkout(ctx, mw.ActorFrom(c))
	if err != nil {
		return fail(l, "checkout_error", err)
	}

	l.Info("checkout_success", "orders", len(orders))
	return c.JSON(http.StatusCreated, orders)
}
