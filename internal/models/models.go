package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer      Role = "customer"
	RoleMerchant      Role = "merchant"
	RoleAdministrator Role = "administrator"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleMerchant, RoleAdministrator:
		return true
	}
	return false
}

// SelfRegistrable reports whether the role may be chosen at public sign-up.
func (r Role) SelfRegistrable() bool {
	return r == RoleCustomer || r == RoleMerchant
}

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null"     json:"username"`
	PasswordHash string    `gorm:"not null"                 json:"-"`
	Role         Role      `gorm:"not null;index"           json:"role"`
	Approved     bool      `gorm:"not null;default:false"   json:"approved"`
	CreatedAt    time.Time `                                json:"created_at"`

	Products []Product  `gorm:"foreignKey:MerchantID;constraint:OnDelete:CASCADE" json:"-"`
	Cart     []CartItem `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"     json:"-"`
	Orders   []Order    `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"     json:"-"`
}

type Product struct {
	ID         uint            `gorm:"primaryKey;autoIncrement"          json:"id"`
	Name       string          `gorm:"not null"                          json:"name"`
	Price      decimal.Decimal `gorm:"type:numeric(12,2);not null"       json:"price"`
	Stock      int             `gorm:"not null;check:stock >= 0"         json:"stock"`
	MerchantID uint            `gorm:"index;not null"                    json:"merchant_id"`
	CreatedAt  time.Time       `                                         json:"created_at"`
	UpdatedAt  time.Time       `                                         json:"updated_at"`

	CartItems []CartItem `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"-"`
	Orders    []Order    `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"-"`
}

type CartItem struct {
	ID        uint `gorm:"primaryKey"                                json:"id"`
	UserID    uint `gorm:"uniqueIndex:idx_cart_user_product;not null" json:"user_id"`
	ProductID uint `gorm:"uniqueIndex:idx_cart_user_product;not null" json:"product_id"`
	Quantity  int  `gorm:"not null;check:quantity > 0"               json:"quantity"`
}

func (CartItem) TableName() string {
	return "cart_items"
}

// Order is a committed sale. Rows are inserted once and never updated.
type Order struct {
	ID        uint      `gorm:"primaryKey"                  json:"id"`
	UserID    uint      `gorm:"index;not null"              json:"user_id"`
	ProductID uint      `gorm:"index;not null"              json:"product_id"`
	Quantity  int       `gorm:"not null;check:quantity > 0" json:"quantity"`
	CreatedAt time.Time `gorm:"index;not null"              json:"created_at"`
}

type RefreshToken struct {
	ID        uint   `gorm:"primaryKey"         json:"id"`
	JTI       string `gorm:"uniqueIndex;not null" json:"jti"`
	TokenHash string `gorm:"uniqueIndex;not null" json:"-"`
	UserID    uint   `gorm:"index;not null"     json:"user_id"`
	ExpiresAt int64  `gorm:"not null"           json:"expires_at"`
	Revoked   bool   `gorm:"default:false"      json:"revoked"`
}

// All lists the models in migration order.
func All() []any {
	return []any{&User{}, &Product{}, &CartItem{}, &Order{}, &RefreshToken{}}
}
