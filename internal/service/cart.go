package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/marketplace/internal/authz"
	"github.com/Skotchmaster/marketplace/internal/events"
	"github.com/Skotchmaster/marketplace/internal/logging"
	"github.com/Skotchmaster/marketplace/internal/metrics"
	"github.com/Skotchmaster/marketplace/internal/models"
	"github.com/Skotchmaster/marketplace/internal/repo"
)

type CartService struct {
	Repo    *repo.GormRepo
	Events  events.Publisher
	Metrics *metrics.Metrics
}

type CartLine struct {
	repo.CartLine
	Subtotal decimal.Decimal `json:"subtotal"`
}

type CartView struct {
	Items []CartLine      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

func (s *CartService) AddItem(ctx context.Context, actor authz.Actor, productID uint, qty int) (*models.CartItem, error) {
	l := logging.FromContext(ctx).With("svc", "cart.add_item", "product_id", productID)

	if err := gate(actor, authz.ActionAddToCart, nil); err != nil {
		l.Warn("add_to_cart_failed", "reason", KindOf(err))
		return nil, err
	}
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}

	item, err := s.Repo.AddToCart(ctx, actor.ID, productID, qty)
	if err != nil {
		err = translate(err, "product")
		l.Warn("add_to_cart_failed", "reason", KindOf(err), "error", err)
		return nil, err
	}

	publish(ctx, s.Events, events.TopicCart, userKey(actor.ID), events.Event{
		Type:    "cart_item_added",
		ActorID: actor.ID,
		Data:    map[string]any{"product_id": productID, "quantity": qty, "cart_quantity": item.Quantity},
	})
	l.Info("add_to_cart_success", "quantity", item.Quantity)
	return item, nil
}

// RemoveItem drops the entry for the product. Removing an absent entry is
// not an error.
func (s *CartService) RemoveItem(ctx context.Context, actor authz.Actor, productID uint) error {
	if err := gate(actor, authz.ActionRemoveFromCart, nil); err != nil {
		return err
	}
	removed, err := s.Repo.RemoveFromCart(ctx, actor.ID, productID)
	if err != nil {
		return err
	}
	if removed {
		publish(ctx, s.Events, events.TopicCart, userKey(actor.ID), events.Event{
			Type:    "cart_item_removed",
			ActorID: actor.ID,
			Data:    map[string]any{"product_id": productID},
		})
	}
	return nil
}

// List returns the cart priced at current catalog prices. Entries whose
// product is gone are skipped.
func (s *CartService) List(ctx context.Context, actor authz.Actor) (*CartView, error) {
	if err := gate(actor, authz.ActionViewCart, nil); err != nil {
		return nil, err
	}
	lines, err := s.Repo.CartLines(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	view := &CartView{Items: make([]CartLine, 0, len(lines)), Total: decimal.Zero}
	for _, ln := range lines {
		sub := ln.Price.Mul(decimal.NewFromInt(int64(ln.Quantity)))
		view.Items = append(view.Items, CartLine{CartLine: ln, Subtotal: sub})
		view.Total = view.Total.Add(sub)
	}
	return view, nil
}

// Checkout orders every cart entry at once and empties the cart. Either all
// entries become orders or none do.
func (s *CartService) Checkout(ctx context.Context, actor authz.Actor) ([]models.Order, error) {
	l := logging.FromContext(ctx).With("svc", "cart.checkout")

	if err := gate(actor, authz.ActionCheckout, nil); err != nil {
		l.Warn("checkout_failed", "reason", KindOf(err))
		return nil, err
	}

	orders, err := s.Repo.Checkout(ctx, actor.ID)
	if err != nil {
		err = translate(err, "product")
		s.Metrics.OrderRejected(KindOf(err))
		l.Warn("checkout_failed", "reason", KindOf(err), "error", err)
		return nil, err
	}

	for i := range orders {
		s.Metrics.OrderPlaced(orders[i].Quantity)
		publishOrder(ctx, s.Events, &orders[i])
	}
	l.Info("checkout_success", "orders", len(orders))
	return orders, nil
}
