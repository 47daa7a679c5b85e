package service

import (
	"context"
	"fmt"

	"github.com/Skotchmaster/marketplace/internal/authz"
	"github.com/Skotchmaster/marketplace/internal/events"
	"github.com/Skotchmaster/marketplace/internal/logging"
	"github.com/Skotchmaster/marketplace/internal/metrics"
	"github.com/Skotchmaster/marketplace/internal/models"
	"github.com/Skotchmaster/marketplace/internal/repo"
)

type OrderService struct {
	Repo    *repo.GormRepo
	Events  events.Publisher
	Metrics *metrics.Metrics
}

func publishOrder(ctx context.Context, p events.Publisher, o *models.Order) {
	publish(ctx, p, events.TopicOrders, userKey(o.UserID), events.Event{
		Type:    "order_placed",
		ActorID: o.UserID,
		Data: map[string]any{
			"order_id":   o.ID,
			"product_id": o.ProductID,
			"quantity":   o.Quantity,
		},
	})
}

// PlaceOrder buys qty units of a product. The stock check and decrement
// happen under a row lock together with the order insert.
func (s *OrderService) PlaceOrder(ctx context.Context, actor authz.Actor, productID uint, qty int) (*models.Order, error) {
	l := logging.FromContext(ctx).With("svc", "order.place", "product_id", productID, "quantity", qty)

	if err := gate(actor, authz.ActionPlaceOrder, nil); err != nil {
		s.Metrics.OrderRejected(KindOf(err))
		l.Warn("place_order_failed", "reason", KindOf(err))
		return nil, err
	}
	if qty < 1 {
		s.Metrics.OrderRejected(KindOf(ErrInvalidInput))
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}

	order, product, err := s.Repo.PlaceOrder(ctx, actor.ID, productID, qty)
	if err != nil {
		err = translate(err, "product")
		s.Metrics.OrderRejected(KindOf(err))
		l.Warn("place_order_failed", "reason", KindOf(err), "error", err)
		return nil, err
	}

	s.Metrics.OrderPlaced(qty)
	publishOrder(ctx, s.Events, order)
	l.Info("place_order_success", "order_id", order.ID, "stock_left", product.Stock)
	return order, nil
}

// ListOrders returns the actor's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, actor authz.Actor) ([]models.Order, error) {
	if err := gate(actor, authz.ActionListOrders, nil); err != nil {
		return nil, err
	}
	return s.Repo.ListOrdersByUser(ctx, actor.ID)
}

func (s *OrderService) ListMerchantOrders(ctx context.Context, actor authz.Actor) ([]repo.MerchantOrder, error) {
	if err := gate(actor, authz.ActionListMerchantOrders, nil); err != nil {
		return nil, err
	}
	return s.Repo.ListMerchantOrders(ctx, actor.ID)
}

func (s *OrderService) ListAll(ctx context.Context, actor authz.Actor, offset, limit int) (int64, []models.Order, error) {
	if err := gate(actor, authz.ActionListAllOrders, nil); err != nil {
		return 0, nil, err
	}
	return s.Repo.ListAllOrders(ctx, offset, limit)
}

func (s *OrderService) DeleteOrder(ctx context.Context, actor authz.Actor, orderID uint) error {
	l := logging.FromContext(ctx).With("svc", "order.delete", "order_id", orderID)

	if err := gate(actor, authz.ActionDeleteOrder, nil); err != nil {
		return err
	}
	if err := s.Repo.DeleteOrder(ctx, orderID); err != nil {
		return translate(err, "order")
	}

	publish(ctx, s.Events, events.TopicOrders, userKey(actor.ID), events.Event{
		Type:    "order_deleted",
		ActorID: actor.ID,
		Data:    map[string]any{"order_id": orderID},
	})
	l.Info("delete_order_success")
	return nil
}

// PurgeOrphaned deletes orders whose user no longer exists and returns how
// many were removed.
func (s *OrderService) PurgeOrphaned(ctx context.Context, actor authz.Actor) (int64, error) {
	l := logging.FromContext(ctx).With("svc", "order.purge_orphaned")

	if err := gate(actor, authz.ActionPurgeOrders, nil); err != nil {
		return 0, err
	}
	n, err := s.Repo.PurgeOrphanedOrders(ctx)
	if err != nil {
		l.Error("purge_orders_failed", "error", err)
		return 0, err
	}

	s.Metrics.Purged(n)
	if n > 0 {
		publish(ctx, s.Events, events.TopicOrders, userKey(actor.ID), events.Event{
			Type:    "orders_purged",
			ActorID: actor.ID,
			Data:    map[string]any{"deleted": n},
		})
	}
	l.Info("purge_orders_success", "deleted", n)
	return n, nil
}
