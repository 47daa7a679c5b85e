package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/marketplace/internal/logging"
	mw "github.com/Skotchmaster/marketplace/internal/middleware"
	"github.com/Skotchmaster/marketplace/internal/service"
)

type MerchantHTTP struct {
	Catalog *service.CatalogService
	Orders  *service.OrderService
}

type productRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

func (r productRequest) input() service.ProductInput {
	return service.ProductInput{Name: r.Name, Price: r.Price, Stock: r.Stock}
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

func (h *MerchantHTTP) ListProducts(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "merchant.products")

	items, err := h.Catalog.ListMine(ctx, mw.ActorFrom(c))
	if err != nil {
		return fail(l, "list_own_products_error", err)
	}

	return c.JSON(http.StatusOK, items)
}

func (h *MerchantHTTP) CreateProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "merchant.create_product")

	var req productRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "create_product_error", "invalid body", err)
	}

	p, err := h.Catalog.Create(ctx, mw.ActorFrom(c), req.input())
	if err != nil {
		return fail(l, "create_product_error", err)
	}

	l.Info("product_created", "product_id", p.ID)
	return c.JSON(http.StatusCreated, p)
}

func (h *MerchantHTTP) UpdateProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "merchant.update_product")

	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(l, "update_product_error", "invalid product id", err)
	}
	var req productRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "update_product_error", "invalid body", err)
	}

	p, err := h.Catalog.Update(ctx, mw.ActorFrom(c), id, req.input())
	if err != nil {
		return fail(l, "update_product_error", err)
	}

	return c.JSON(http.StatusOK, p)
}

func (h *MerchantHTTP) RestockProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "merchant.restock")

	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(l, "restock_error", "invalid product id", err)
	}
	var req restockRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "restock_error", "invalid body", err)
	}

	p, err := h.Catalog.Restock(ctx, mw.ActorFrom(c), id, req.Quantity)
	if err != nil {
		return fail(l, "restock_error", err)
	}

	return c.JSON(http.StatusOK, p)
}

func (h *MerchantHTTP) DeleteProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "merchant.delete_product")

	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(l, "delete_product_error", "invalid product id", err)
	}

	if err := h.Catalog.Delete(ctx, mw.ActorFrom(c), id); err != nil {
		return fail(l, "delete_product_error", err)
	}

	l.Info("product_deleted", "product_id", id)
	return c.NoContent(http.StatusNoContent)
}

func (h *MerchantHTTP) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "merchant.orders")

	rows, err := h.Orders.ListMerchantOrders(ctx, mw.ActorFrom(c))
	if err != nil {
		return fail(l, "list_merchant_orders_error", err)
	}

	return c.JSON(http.StatusOK, rows)
}
