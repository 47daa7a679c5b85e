package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/marketplace/internal/models"
)

// MerchantOrder is an order on one of the merchant's products, with the
// product name and buyer resolved at read time.
type MerchantOrder struct {
	OrderID     uint      `json:"order_id"`
	ProductID   uint      `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	BuyerID     uint      `json:"buyer_id"`
	Buyer       string    `json:"buyer"`
	CreatedAt   time.Time `json:"created_at"`
}

// PlaceOrder locks the product, decrements its stock and records the order.
// It returns the order and the product as left after the decrement.
func (r *GormRepo) PlaceOrder(ctx context.Context, userID, productID uint, qty int) (*models.Order, *models.Product, error) {
	var (
		order   models.Order
		product *models.Product
	)
	err := r.inTx(ctx, func(tx *gorm.DB) error {
		p, err := lockProduct(tx, productID)
		if err != nil {
			return err
		}
		if qty > p.Stock {
			return ErrInsufficientStock
		}
		if err := decrementStock(tx, productID, qty); err != nil {
			return err
		}
		p.Stock -= qty
		product = p

		order = models.Order{UserID: userID, ProductID: productID, Quantity: qty}
		return tx.Create(&order).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &order, product, nil
}

// ListOrdersByUser returns the user's orders, newest first.
func (r *GormRepo) ListOrdersByUser(ctx context.Context, userID uint) ([]models.Order, error) {
	var orders []models.Order
	if err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *GormRepo) ListAllOrders(ctx context.Context, offset, limit int) (int64, []models.Order, error) {
	var total int64
	if err := r.DB.WithContext(ctx).Model(&models.Order{}).Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var orders []models.Order
	if err := r.DB.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&orders).Error; err != nil {
		return 0, nil, err
	}
	return total, orders, nil
}

func (r *GormRepo) ListMerchantOrders(ctx context.Context, merchantID uint) ([]MerchantOrder, error) {
	var rows []MerchantOrder
	err := r.DB.WithContext(ctx).
		Table("orders").
		Select("orders.id AS order_id, orders.product_id, products.name AS product_name, " +
			"orders.quantity, orders.user_id AS buyer_id, users.username AS buyer, orders.created_at").
		Joins("JOIN products ON products.id = orders.product_id").
		Joins("JOIN users ON users.id = orders.user_id").
		Where("products.merchant_id = ?", merchantID).
		Order("orders.created_at DESC").Order("orders.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *GormRepo) DeleteOrder(ctx context.Context, id uint) error {
	res := r.DB.WithContext(ctx).Delete(&models.Order{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// PurgeOrphanedOrders deletes orders whose user no longer exists.
func (r *GormRepo) PurgeOrphanedOrders(ctx context.Context) (int64, error) {
	users := r.DB.Model(&models.User{}).Select("id")
	res := r.DB.WithContext(ctx).Where("user_id NOT IN (?)", users).Delete(&models.Order{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
