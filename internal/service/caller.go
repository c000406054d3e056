package service

import (
	"github.com/vwinv/backend-almadina/internal/apierror"
	"github.com/vwinv/backend-almadina/internal/model"

	"github.com/google/uuid"
)

// Caller is the authenticated identity a request acts as.
type Caller struct {
	UserID uuid.UUID
	Role   string
}

func (c Caller) IsManager() bool { return c.Role == model.RoleManager }
func (c Caller) IsAdmin() bool   { return model.IsAdminRole(c.Role) }

func requireManager(c Caller) error {
	if !c.IsManager() {
		return apierror.Forbidden("only managers can operate a cash register")
	}
	return nil
}

func requireAdmin(c Caller) error {
	if !c.IsAdmin() {
		return apierror.Forbidden("administrator role required")
	}
	return nil
}

// canRead: a manager reads their own registers, an administrator reads anyone's.
func (c Caller) canRead(managerID uuid.UUID) bool {
	return c.IsAdmin() || (c.IsManager() && c.UserID == managerID)
}
