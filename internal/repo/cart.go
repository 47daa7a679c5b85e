package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Skotchmaster/marketplace/internal/models"
)

// CartLine is a cart entry joined with its product's current price and stock.
type CartLine struct {
	ProductID uint            `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Quantity  int             `json:"quantity"`
}

// AddToCart merges qty into the user's entry for the product. The requested
// quantity is checked against the current stock without reserving it.
func (r *GormRepo) AddToCart(ctx context.Context, userID, productID uint, qty int) (*models.CartItem, error) {
	var item models.CartItem
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Product
		if err := tx.First(&p, productID).Error; err != nil {
			return err
		}
		if qty > p.Stock {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, qty, p.Stock)
		}

		res := tx.Model(&models.CartItem{}).
			Where("user_id = ? AND product_id = ?", userID, productID).
			Update("quantity", gorm.Expr("quantity + ?", qty))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return tx.Where("user_id = ? AND product_id = ?", userID, productID).First(&item).Error
		}

		item = models.CartItem{UserID: userID, ProductID: productID, Quantity: qty}
		return tx.Create(&item).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// RemoveFromCart deletes the entry; removed is false when there was none.
func (r *GormRepo) RemoveFromCart(ctx context.Context, userID, productID uint) (bool, error) {
	res := r.DB.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Delete(&models.CartItem{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CartLines returns the user's entries whose product still exists.
func (r *GormRepo) CartLines(ctx context.Context, userID uint) ([]CartLine, error) {
	var lines []CartLine
	err := r.DB.WithContext(ctx).
		Table("cart_items").
		Select("cart_items.product_id, products.name, products.price, products.stock, cart_items.quantity").
		Joins("JOIN products ON products.id = cart_items.product_id").
		Where("cart_items.user_id = ?", userID).
		Order("cart_items.id ASC").
		Scan(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// Checkout turns every cart entry into an order and empties the cart, all in
// one transaction. Products are locked in id order. Entries whose product no
// longer exists are dropped.
func (r *GormRepo) Checkout(ctx context.Context, userID uint) ([]models.Order, error) {
	var orders []models.Order
	err := r.inTx(ctx, func(tx *gorm.DB) error {
		orders = nil

		var items []models.CartItem
		if err := tx.Where("user_id = ?", userID).Order("product_id ASC").Find(&items).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}

		for _, it := range items {
			p, err := lockProduct(tx, it.ProductID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				return err
			}
			if it.Quantity > p.Stock {
				return fmt.Errorf("%w: product %d: requested %d, available %d",
					ErrInsufficientStock, p.ID, it.Quantity, p.Stock)
			}
			if err := decrementStock(tx, p.ID, it.Quantity); err != nil {
				return err
			}
			o := models.Order{UserID: userID, ProductID: p.ID, Quantity: it.Quantity}
			if err := tx.Create(&o).Error; err != nil {
				return err
			}
			orders = append(orders, o)
		}
		if len(orders) == 0 {
			return ErrEmptyCart
		}

		return tx.Where("user_id = ?", userID).Delete(&models.CartItem{}).Error
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}
