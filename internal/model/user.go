package model

import (
	"time"

	"github.com/google/uuid"
)

// Role values as issued by the identity provider.
const (
	RoleCustomer   = "CUSTOMER"
	RoleManager    = "MANAGER"
	RoleAdmin      = "ADMIN"
	RoleSuperAdmin = "SUPER_ADMIN"
)

// IsAdminRole reports whether role may read across managers.
func IsAdminRole(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

// User is the identity provider's user row. The ledger only reads it.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Username  string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	Email     *string
	Role      string `gorm:"type:varchar(20);not null"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
