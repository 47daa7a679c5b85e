package service

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/marketplace/internal/authz"
	"github.com/Skotchmaster/marketplace/internal/events"
	"github.com/Skotchmaster/marketplace/internal/models"
)

func TestWidgetScenario(t *testing.T) {
	env := newEnv(t)

	alice, err := env.identity.Register(env.ctx, "alice", "pw1", models.RoleCustomer)
	require.NoError(t, err)
	_, err = env.identity.SetApproved(env.ctx, env.admin, alice.ID, true)
	require.NoError(t, err)
	bob := env.approved("bob", "pw", models.RoleMerchant)
	w := env.product(bob, "Widget", "10.00", 5)

	user, err := env.identity.Authenticate(env.ctx, "alice", "pw1", "")
	require.NoError(t, err)
	actor := authz.FromUser(user)

	o, err := env.orders.PlaceOrder(env.ctx, actor, w.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, o.UserID)
	assert.Equal(t, w.ID, o.ProductID)
	assert.Equal(t, 3, o.Quantity)
	assert.Equal(t, 2, env.stock(w.ID))

	orders, err := env.orders.ListOrders(env.ctx, actor)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	_, err = env.orders.PlaceOrder(env.ctx, actor, w.ID, 3)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 2, env.stock(w.ID))

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.OrdersPlaced))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.OrdersRejected.WithLabelValues("insufficient_stock")))
	assert.Equal(t, []string{"order_placed"}, env.events.Types(events.TopicOrders))
}

func TestPlaceOrderRules(t *testing.T) {
	env := newEnv(t)
	alice := env.approved("alice", "pw", models.RoleCustomer)
	bob := env.approved("bob", "pw", models.RoleMerchant)
	w := env.product(bob, "Widget", "10.00", 5)

	_, err := env.orders.PlaceOrder(env.ctx, bob, w.ID, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = env.orders.PlaceOrder(env.ctx, env.admin, w.ID, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = env.orders.PlaceOrder(env.ctx, authz.Actor{}, w.ID, 1)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = env.orders.PlaceOrder(env.ctx, alice, w.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.orders.PlaceOrder(env.ctx, alice, 999, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.orders.PlaceOrder(env.ctx, alice, w.ID, 6)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 5, env.stock(w.ID))
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	env := newEnv(t)
	bob := env.approved("bob", "pw", models.RoleMerchant)

	const (
		buyers = 12
		stock  = 5
	)
	w := env.product(bob, "Widget", "10.00", stock)

	actors := make([]authz.Actor, buyers)
	for i := range actors {
		actors[i] = env.approved("buyer"+string(rune('a'+i)), "pw", models.RoleCustomer)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, short int
		other     []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(a authz.Actor) {
			defer wg.Done()
			_, err := env.orders.PlaceOrder(env.ctx, a, w.ID, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientStock):
				short++
			default:
				other = append(other, err)
			}
		}(actors[i])
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, stock, ok)
	assert.Equal(t, buyers-stock, short)
	assert.Equal(t, 0, env.stock(w.ID))

	total, _, err := env.orders.ListAll(env.ctx, env.admin, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(stock), total)
}

func TestRestockRacesOrders(t *testing.T) {
	env := newEnv(t)
	bob := env.approved("bob", "pw", models.RoleMerchant)

	const (
		initial  = 3
		buyers   = 8
		perBuyer = 3
		restocks = 6
		delta    = 2
	)
	w := env.product(bob, "Widget", "1.00", initial)

	actors := make([]authz.Actor, buyers)
	for i := range actors {
		actors[i] = env.approved("racer"+string(rune('a'+i)), "pw", models.RoleCustomer)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ordered int
		errs    []error
	)
	record := func(err error, placed bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err == nil && placed:
			ordered++
		case err == nil, errors.Is(err, ErrInsufficientStock):
		default:
			errs = append(errs, err)
		}
	}

	for _, a := range actors {
		wg.Add(1)
		go func(a authz.Actor) {
			defer wg.Done()
			for i := 0; i < perBuyer; i++ {
				_, err := env.orders.PlaceOrder(env.ctx, a, w.ID, 1)
				record(err, true)
			}
		}(a)
	}
	for i := 0; i < restocks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := env.catalog.Restock(env.ctx, bob, w.ID, delta)
			if err == nil && p.Stock < 0 {
				err = errors.New("negative stock after restock")
			}
			record(err, false)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	final := env.stock(w.ID)
	assert.GreaterOrEqual(t, final, 0)
	assert.Equal(t, initial+restocks*delta-ordered, final)

	total, _, err := env.orders.ListAll(env.ctx, env.admin, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(ordered), total)
}

func TestStockNeverNegative(t *testing.T) {
	env := newEnv(t)
	alice := env.approved("alice", "pw", models.RoleCustomer)
	bob := env.approved("bob", "pw", models.RoleMerchant)
	w := env.product(bob, "Widget", "1.00", 2)

	steps := []struct {
		restock, buy int
	}{
		{buy: 1}, {buy: 2}, {restock: 3}, {buy: 4}, {buy: 4}, {restock: 1}, {buy: 2},
	}
	for _, s := range steps {
		if s.restock > 0 {
			_, err := env.catalog.Restock(env.ctx, bob, w.ID, s.restock)
			require.NoError(t, err)
		}
		if s.buy > 0 {
			_, _ = env.orders.PlaceOrder(env.ctx, alice, w.ID, s.buy)
		}
		assert.GreaterOrEqual(t, env.stock(w.ID), 0)
	}
}

func TestMerchantOrders(t *testing.T) {
	env := newEnv(t)
	alice := env.approved("alice", "pw", models.RoleCustomer)
	bob := env.approved("bob", "pw", models.RoleMerchant)
	carol := env.approved("carol", "pw", models.RoleMerchant)
	w := env.product(bob, "Widget", "10.00", 5)
	k := env.product(carol, "Kettle", "20.00", 5)

	_, err := env.orders.PlaceOrder(env.ctx, alice, w.ID, 2)
	require.NoError(t, err)
	_, err = env.orders.PlaceOrder(env.ctx, alice, k.ID, 1)
	require.NoError(t, err)

	rows, err := env.orders.ListMerchantOrders(env.ctx, bob)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Widget", rows[0].ProductName)
	assert.Equal(t, "alice", rows[0].Buyer)
	assert.Equal(t, 2, rows[0].Quantity)

	_, err = env.orders.ListMerchantOrders(env.ctx, alice)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAdminOrderMaintenance(t *testing.T) {
	env := newEnv(t)
	alice := env.approved("alice", "pw", models.RoleCustomer)
	bob := env.approved("bob", "pw", models.RoleMerchant)
	w := env.product(bob, "Widget", "10.00", 5)

	o, err := env.orders.PlaceOrder(env.ctx, alice, w.ID, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, env.orders.DeleteOrder(env.ctx, alice, o.ID), ErrUnauthorized)
	require.NoError(t, env.orders.DeleteOrder(env.ctx, env.admin, o.ID))
	assert.ErrorIs(t, env.orders.DeleteOrder(env.ctx, env.admin, o.ID), ErrNotFound)

	_, err = env.orders.PurgeOrphaned(env.ctx, bob)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, env.repo.DB.Exec("PRAGMA foreign_keys = OFF").Error)
	require.NoError(t, env.repo.DB.Create(&models.Order{UserID: 777, ProductID: w.ID, Quantity: 1}).Error)
	require.NoError(t, env.repo.DB.Exec("PRAGMA foreign_keys = ON").Error)

	n, err := env.orders.PurgeOrphaned(env.ctx, env.admin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.OrdersPurged))
}

func TestCartRoundTrip(t *testing.T) {
	env := newEnv(t)
	alice := env.approved("alice", "pw", models.RoleCustomer)
	bob := env.approved("bob", "pw", models.RoleMerchant)
	w := env.product(bob, "Widget", "10.00", 5)
	g := env.product(bob, "Gadget", "2.50", 10)

	_, err := env.cart.AddItem(env.ctx, alice, w.ID, 2)
	require.NoError(t, err)
	_, err = env.cart.AddItem(env.ctx, alice, g.ID, 3)
	require.NoError(t, err)
	item, err := env.cart.AddItem(env.ctx, alice, g.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, item.Quantity)

	view, err := env.cart.List(env.ctx, alice)
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	assert.True(t, view.Items[0].Subtotal.Equal(decimal.RequireFromString("20.00")))
	assert.True(t, view.Items[1].Subtotal.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, view.Total.Equal(decimal.RequireFromString("30.00")), view.Total.String())
}

func TestCartRules(t *testing.T) {
	env := newEnv(t)
	alice := env.approved("alice", "pw", models.RoleCustomer)
	bob := env.approved("bob", "pw", models.RoleMerchant)
	w := env.product(bob, "Widget", "10.00", 5)

	_, err := env.cart.AddItem(env.ctx, alice, w.ID, 6)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	_, err = env.cart.AddItem(env.ctx, alice, 999, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.cart.AddItem(env.ctx, alice, w.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.cart.AddItem(env.ctx, bob, w.ID, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, env.cart.RemoveItem(env.ctx, alice, w.ID))
	require.NoError(t, env.cart.RemoveItem(env.ctx, alice, w.ID))

	_, err = env.cart.Checkout(env.ctx, alice)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCheckout(t *testing.T) {
	env := newEnv(t)
	alice := env.approved("alice", "pw", models.RoleCustomer)
	bob := env.approved("bob", "pw", models.RoleMerchant)
	w := env.product(bob, "Widget", "10.00", 5)
	g := env.product(bob, "Gadget", "2.50", 10)

	_, err := env.cart.AddItem(env.ctx, alice, w.ID, 2)
	require.NoError(t, err)
	_, err = env.cart.AddItem(env.ctx, alice, g.ID, 3)
	require.NoError(t, err)

	orders, err := env.cart.Checkout(env.ctx, alice)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	assert.Equal(t, 3, env.stock(w.ID))
	assert.Equal(t, 7, env.stock(g.ID))

	view, err := env.cart.List(env.ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.True(t, view.Total.IsZero())

	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.OrdersPlaced))
	assert.Equal(t, 5.0, testutil.ToFloat64(env.metrics.UnitsSold))
}
