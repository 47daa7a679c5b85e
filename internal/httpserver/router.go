package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/marketplace/internal/logging"
	"github.com/Skotchmaster/marketplace/internal/metrics"
	mw "github.com/Skotchmaster/marketplace/internal/middleware"
)

const apiPrefix = "/api/v1"

type Deps struct {
	Auth     *AuthHTTP
	Catalog  *CatalogHTTP
	Merchant *MerchantHTTP
	Cart     *CartHTTP
	Orders   *OrderHTTP
	Admin    *AdminHTTP

	Session *mw.Session
	Metrics *metrics.Metrics
	// Ready reports whether the storage backend is reachable.
	Ready func(ctx context.Context) error

	CSRF         bool
	CookieSecure bool
}

// New builds the echo instance with the common middleware chain and all
// routes registered.
func New(logger *slog.Logger, d *Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	e.Use(mw.Common()...)
	e.Use(mw.RequestLogger(logger))
	if d.Metrics != nil {
		e.Use(d.Metrics.Middleware())
	}

	Register(e, d)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := d.Ready(ctx); err != nil {
			logging.FromContext(ctx).Warn("readiness_failed", "error", err)
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	})
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}

	api := e.Group(apiPrefix)
	if d.CSRF {
		api.Use(mw.CSRF(d.CookieSecure, apiPrefix+"/auth/register", apiPrefix+"/auth/login"))
	}
	api.Use(d.Session.Middleware)

	auth := api.Group("/auth")
	auth.POST("/register", d.Auth.Register)
	auth.POST("/login", d.Auth.Login)
	auth.POST("/refresh", d.Auth.Refresh)
	auth.POST("/logout", d.Auth.Logout)

	catalog := api.Group("/catalog")
	catalog.GET("/products", d.Catalog.ListProducts)
	catalog.GET("/products/search", d.Catalog.SearchProducts)
	catalog.GET("/products/:id", d.Catalog.GetProduct)

	merchant := api.Group("/merchant")
	merchant.GET("/products", d.Merchant.ListProducts)
	merchant.POST("/products", d.Merchant.CreateProduct)
	merchant.PUT("/products/:id", d.Merchant.UpdateProduct)
	merchant.DELETE("/products/:id", d.Merchant.DeleteProduct)
	merchant.POST("/products/:id/restock", d.Merchant.RestockProduct)
	merchant.GET("/orders", d.Merchant.ListOrders)

	cart := api.Group("/cart")
	cart.GET("", d.Cart.GetCart)
	cart.POST("/items", d.Cart.AddItem)
	cart.DELETE("/items/:product_id", d.Cart.RemoveItem)
	cart.POST("/checkout", d.Cart.Checkout)

	orders := api.Group("/orders")
	orders.GET("", d.Orders.ListOrders)
	orders.POST("", d.Orders.PlaceOrder)

	admin := api.Group("/admin")
	admin.GET("/users", d.Admin.ListUsers)
	admin.PUT("/users/:id/approval", d.Admin.SetApproval)
	admin.DELETE("/users/:id", d.Admin.DeleteUser)
	admin.GET("/products", d.Admin.ListProducts)
	admin.GET("/orders", d.Admin.ListOrders)
	admin.DELETE("/orders/:id", d.Admin.DeleteOrder)
	admin.POST("/orders/purge", d.Admin.PurgeOrders)
}
