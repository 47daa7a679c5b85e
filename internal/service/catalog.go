package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/marketplace/internal/authz"
	"github.com/Skotchmaster/marketplace/internal/events"
	"github.com/Skotchmaster/marketplace/internal/logging"
	"github.com/Skotchmaster/marketplace/internal/models"
	"github.com/Skotchmaster/marketplace/internal/repo"
	"github.com/Skotchmaster/marketplace/internal/search"
)

type CatalogService struct {
	Repo   *repo.GormRepo
	Events events.Publisher
	// Index is optional; without it search runs as a SQL substring match.
	Index search.Index
}

const MaxStock = 1_000_000_000

// MaxPrice is the largest value the numeric(12,2) price column holds.
var MaxPrice = decimal.RequireFromString("9999999999.99")

type ProductInput struct {
	Name  string
	Price decimal.Decimal
	Stock int
}

func (in *ProductInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	if !in.Price.Equal(in.Price.Round(2)) {
		return fmt.Errorf("%w: price has more than 2 decimal places", ErrInvalidInput)
	}
	if in.Price.GreaterThan(MaxPrice) {
		return fmt.Errorf("%w: price must not exceed %s", ErrInvalidInput, MaxPrice)
	}
	if in.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidInput)
	}
	if in.Stock > MaxStock {
		return fmt.Errorf("%w: stock must not exceed %d", ErrInvalidInput, MaxStock)
	}
	in.Price = in.Price.Round(2)
	return nil
}

func productKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (s *CatalogService) reindex(ctx context.Context, p *models.Product) {
	if s.Index == nil {
		return
	}
	if err := s.Index.Put(ctx, *p); err != nil {
		logging.FromContext(ctx).Warn("search_index_failed", "product_id", p.ID, "error", err)
	}
}

func (s *CatalogService) productEvent(ctx context.Context, typ string, actor authz.Actor, p *models.Product) {
	publish(ctx, s.Events, events.TopicProducts, productKey(p.ID), events.Event{
		Type:    typ,
		ActorID: actor.ID,
		Data: map[string]any{
			"product_id": p.ID,
			"name":       p.Name,
			"price":      p.Price.StringFixed(2),
			"stock":      p.Stock,
		},
	})
}

func (s *CatalogService) Create(ctx context.Context, actor authz.Actor, in ProductInput) (*models.Product, error) {
	l := logging.FromContext(ctx).With("svc", "catalog.create")

	if err := gate(actor, authz.ActionCreateProduct, nil); err != nil {
		l.Warn("create_product_failed", "reason", KindOf(err))
		return nil, err
	}
	if err := in.validate(); err != nil {
		l.Warn("create_product_failed", "status", 400, "error", err)
		return nil, err
	}

	p := &models.Product{Name: in.Name, Price: in.Price, Stock: in.Stock, MerchantID: actor.ID}
	if err := s.Repo.CreateProduct(ctx, p); err != nil {
		l.Error("create_product_failed", "status", 500, "error", err)
		return nil, err
	}

	s.reindex(ctx, p)
	s.productEvent(ctx, "product_created", actor, p)
	l.Info("create_product_success", "product_id", p.ID)
	return p, nil
}

// Restock adds delta units to a product owned by the actor.
func (s *CatalogService) Restock(ctx context.Context, actor authz.Actor, productID uint, delta int) (*models.Product, error) {
	l := logging.FromContext(ctx).With("svc", "catalog.restock", "product_id", productID)

	if err := preGate(actor, authz.ActionRestockProduct); err != nil {
		l.Warn("restock_failed", "reason", KindOf(err))
		return nil, err
	}
	if delta <= 0 || delta > MaxStock {
		return nil, fmt.Errorf("%w: restock quantity must be between 1 and %d", ErrInvalidInput, MaxStock)
	}

	owner := ownerCheck(actor, authz.ActionRestockProduct)
	p, err := s.Repo.RestockProduct(ctx, productID, delta, func(p *models.Product) error {
		if err := owner(p); err != nil {
			return err
		}
		if delta > MaxStock-p.Stock {
			return fmt.Errorf("%w: stock would exceed %d", ErrInvalidInput, MaxStock)
		}
		return nil
	})
	if err != nil {
		err = translate(err, "product")
		l.Warn("restock_failed", "reason", KindOf(err), "error", err)
		return nil, err
	}

	s.productEvent(ctx, "product_restocked", actor, p)
	l.Info("restock_success", "delta", delta, "stock", p.Stock)
	return p, nil
}

// Update overwrites name, price and stock of a product owned by the actor.
func (s *CatalogService) Update(ctx context.Context, actor authz.Actor, productID uint, in ProductInput) (*models.Product, error) {
	l := logging.FromContext(ctx).With("svc", "catalog.update", "product_id", productID)

	if err := preGate(actor, authz.ActionEditProduct); err != nil {
		l.Warn("update_product_failed", "reason", KindOf(err))
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	p, err := s.Repo.UpdateProduct(ctx, productID, repo.ProductFields{
		Name:  in.Name,
		Price: in.Price,
		Stock: in.Stock,
	}, ownerCheck(actor, authz.ActionEditProduct))
	if err != nil {
		err = translate(err, "product")
		l.Warn("update_product_failed", "reason", KindOf(err), "error", err)
		return nil, err
	}

	s.reindex(ctx, p)
	s.productEvent(ctx, "product_updated", actor, p)
	l.Info("update_product_success")
	return p, nil
}

// Delete removes a product owned by the actor, with its cart entries and
// orders.
func (s *CatalogService) Delete(ctx context.Context, actor authz.Actor, productID uint) error {
	l := logging.FromContext(ctx).With("svc", "catalog.delete", "product_id", productID)

	if err := preGate(actor, authz.ActionDeleteProduct); err != nil {
		l.Warn("delete_product_failed", "reason", KindOf(err))
		return err
	}
	if err := s.Repo.DeleteProductCascade(ctx, productID, ownerCheck(actor, authz.ActionDeleteProduct)); err != nil {
		err = translate(err, "product")
		l.Warn("delete_product_failed", "reason", KindOf(err), "error", err)
		return err
	}

	if s.Index != nil {
		if err := s.Index.Delete(ctx, productID); err != nil {
			l.Warn("search_unindex_failed", "error", err)
		}
	}
	publish(ctx, s.Events, events.TopicProducts, productKey(productID), events.Event{
		Type:    "product_deleted",
		ActorID: actor.ID,
		Data:    map[string]any{"product_id": productID},
	})
	l.Info("delete_product_success")
	return nil
}

func (s *CatalogService) Get(ctx context.Context, productID uint) (*models.Product, error) {
	p, err := s.Repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, translate(err, "product")
	}
	return p, nil
}

func (s *CatalogService) List(ctx context.Context, offset, limit int) (int64, []models.Product, error) {
	return s.Repo.ListProducts(ctx, offset, limit)
}

func (s *CatalogService) Search(ctx context.Context, q string, offset, limit int) (int64, []models.Product, error) {
	l := logging.FromContext(ctx).With("svc", "catalog.search")

	q = search.Sanitize(q)
	if q == "" {
		return 0, nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}

	if s.Index != nil {
		total, ids, err := s.Index.Search(ctx, q, offset, limit)
		if err == nil {
			byID, err := s.Repo.GetProductsByIDs(ctx, ids)
			if err != nil {
				return 0, nil, err
			}
			items := make([]models.Product, 0, len(ids))
			for _, id := range ids {
				if p, ok := byID[id]; ok {
					items = append(items, p)
				}
			}
			return total, items, nil
		}
		l.Warn("search_index_unavailable", "error", err)
	}

	return s.Repo.SearchProducts(ctx, q, offset, limit)
}

func (s *CatalogService) ListMine(ctx context.Context, actor authz.Actor) ([]models.Product, error) {
	if err := gate(actor, authz.ActionListOwnProducts, nil); err != nil {
		return nil, err
	}
	return s.Repo.ListProductsByMerchant(ctx, actor.ID)
}

func (s *CatalogService) ListAll(ctx context.Context, actor authz.Actor, offset, limit int) (int64, []models.Product, error) {
	if err := gate(actor, authz.ActionListAllProducts, nil); err != nil {
		return 0, nil, err
	}
	return s.Repo.ListProducts(ctx, offset, limit)
}
