package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/marketplace/internal/logging"
	mw "github.com/Skotchmaster/marketplace/internal/middleware"
	"github.com/Skotchmaster/marketplace/internal/models"
	"github.com/Skotchmaster/marketplace/internal/service"
)

type AdminHTTP struct {
	Identity *service.IdentityService
	Catalog  *service.CatalogService
	Orders   *service.OrderService
}

type approvalRequest struct {
	Approved *bool `json:"approved"`
}

func (h *AdminHTTP) ListUsers(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.users")

	users, err := h.Identity.ListUsers(ctx, mw.ActorFrom(c), models.Role(c.QueryParam("role")))
	if err != nil {
		return fail(l, "list_users_error", err)
	}

	return c.JSON(http.StatusOK, users)
}

func (h *AdminHTTP) SetApproval(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.approval")

	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(l, "approval_error", "invalid user id", err)
	}
	var req approvalRequest
	if err := c.Bind(&req); err != nil || req.Approved == nil {
		return badRequest(l, "approval_error", "approved flag is required", err)
	}

	u, err := h.Identity.SetApproved(ctx, mw.ActorFrom(c), id, *req.Approved)
	if err != nil {
		return fail(l, "approval_error", err)
	}

	l.Info("approval_changed", "user_id", u.ID, "approved", u.Approved)
	return c.JSON(http.StatusOK, u)
}

func (h *AdminHTTP) DeleteUser(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.delete_user")

	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(l, "delete_user_error", "invalid user id", err)
	}

	if err := h.Identity.DeleteUser(ctx, mw.ActorFrom(c), id); err != nil {
		return fail(l, "delete_user_error", err)
	}

	l.Info("user_deleted", "user_id", id)
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHTTP) ListProducts(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.products")

	page, offset, limit := pageParams(c)
	total, items, err := h.Catalog.ListAll(ctx, mw.ActorFrom(c), offset, limit)
	if err != nil {
		return fail(l, "list_all_products_error", err)
	}

	return c.JSON(http.StatusOK, paged(items, page, limit, total))
}

func (h *AdminHTTP) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.orders")

	page, offset, limit := pageParams(c)
	total, orders, err := h.Orders.ListAll(ctx, mw.ActorFrom(c), offset, limit)
	if err != nil {
		return fail(l, "list_all_orders_error", err)
	}

	return c.JSON(http.StatusOK, paged(orders, page, limit, total))
}

func (h *AdminHTTP) DeleteOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.delete_order")

	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(l, "delete_order_error", "invalid order id", err)
	}

	if err := h.Orders.DeleteOrder(ctx, mw.ActorFrom(c), id); err != nil {
		return fail(l, "delete_order_error", err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHTTP) PurgeOrders(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.purge")

	n, err := h.Orders.PurgeOrphaned(ctx, mw.ActorFrom(c))
	if err != nil {
		return fail(l, "purge_orders_error", err)
	}

	l.Info("orders_purged", "removed", n)
	return c.JSON(http.StatusOK, echo.Map{"removed": n})
}
