// Package authz holds the single authorization predicate consulted before
// every mutating or role-scoped operation.
package authz

import (
	"errors"

	"github.com/Skotchmaster/marketplace/internal/models"
)

// Actor is the authenticated party issuing a request. The zero value is the
// anonymous actor.
type Actor struct {
	ID       uint
	Role     models.Role
	Approved bool
}

func (a Actor) Authenticated() bool {
	return a.ID != 0
}

func FromUser(u *models.User) Actor {
	if u == nil {
		return Actor{}
	}
	return Actor{ID: u.ID, Role: u.Role, Approved: u.Approved}
}

type Action string

const (
	ActionRegister      Action = "register"
	ActionLogin         Action = "login"
	ActionBrowseCatalog Action = "browse_catalog"
	ActionLogout        Action = "logout"

	ActionCreateProduct      Action = "create_product"
	ActionEditProduct        Action = "edit_product"
	ActionRestockProduct     Action = "restock_product"
	ActionDeleteProduct      Action = "delete_product"
	ActionListOwnProducts    Action = "list_own_products"
	ActionListMerchantOrders Action = "list_merchant_orders"

	ActionViewCart       Action = "view_cart"
	ActionAddToCart      Action = "add_to_cart"
	ActionRemoveFromCart Action = "remove_from_cart"
	ActionCheckout       Action = "checkout"
	ActionPlaceOrder     Action = "place_order"
	ActionListOrders     Action = "list_orders"

	ActionListUsers       Action = "list_users"
	ActionApproveUser     Action = "approve_user"
	ActionDeleteUser      Action = "delete_user"
	ActionListAllProducts Action = "list_all_products"
	ActionListAllOrders   Action = "list_all_orders"
	ActionDeleteOrder     Action = "delete_order"
	ActionPurgeOrders     Action = "purge_orders"
)

type rule struct {
	public      bool
	role        models.Role // empty: any authenticated actor
	ownerScoped bool
}

var policy = map[Action]rule{
	ActionRegister:      {public: true},
	ActionLogin:         {public: true},
	ActionBrowseCatalog: {public: true},
	ActionLogout:        {},

	ActionCreateProduct:      {role: models.RoleMerchant},
	ActionEditProduct:        {role: models.RoleMerchant, ownerScoped: true},
	ActionRestockProduct:     {role: models.RoleMerchant, ownerScoped: true},
	ActionDeleteProduct:      {role: models.RoleMerchant, ownerScoped: true},
	ActionListOwnProducts:    {role: models.RoleMerchant},
	ActionListMerchantOrders: {role: models.RoleMerchant},

	ActionViewCart:       {role: models.RoleCustomer},
	ActionAddToCart:      {role: models.RoleCustomer},
	ActionRemoveFromCart: {role: models.RoleCustomer},
	ActionCheckout:       {role: models.RoleCustomer},
	ActionPlaceOrder:     {role: models.RoleCustomer},
	ActionListOrders:     {role: models.RoleCustomer},

	ActionListUsers:       {role: models.RoleAdministrator},
	ActionApproveUser:     {role: models.RoleAdministrator},
	ActionDeleteUser:      {role: models.RoleAdministrator},
	ActionListAllProducts: {role: models.RoleAdministrator},
	ActionListAllOrders:   {role: models.RoleAdministrator},
	ActionDeleteOrder:     {role: models.RoleAdministrator},
	ActionPurgeOrders:     {role: models.RoleAdministrator},
}

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrPendingApproval = errors.New("pending approval")
	ErrForbidden       = errors.New("forbidden")
)

// Authorize evaluates the policy for action. ownerID is the owner of the
// resource for owner-scoped actions and is ignored otherwise.
//
// Precedence: unknown actions are denied, public actions are allowed,
// anonymous actors are denied, unapproved non-administrators may only log
// out, then role match and ownership are required.
func Authorize(a Actor, action Action, ownerID *uint) error {
	r, ok := policy[action]
	if !ok {
		return ErrForbidden
	}
	if r.public {
		return nil
	}
	if !a.Authenticated() {
		return ErrUnauthenticated
	}
	if !a.Approved && a.Role != models.RoleAdministrator && action != ActionLogout {
		return ErrPendingApproval
	}
	if r.role != "" && a.Role != r.role {
		return ErrForbidden
	}
	if r.ownerScoped {
		if ownerID == nil || *ownerID != a.ID {
			return ErrForbidden
		}
	}
	return nil
}

func Allow(a Actor, action Action, ownerID *uint) bool {
	return Authorize(a, action, ownerID) == nil
}
