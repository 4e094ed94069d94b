// Package userstore reads and writes the User columns introduced by the
// usertable migrations.
package userstore

import (
	"strings"
	"time"
)

// Role is a user's access level. Stored values are compared case-insensitively.
type Role string

const (
	RoleCitizen    Role = "CITIZEN"
	RoleOfficer    Role = "OFFICER"
	RoleSupervisor Role = "SUPERVISOR"
	RoleAdmin      Role = "ADMIN"
)

// Normalize returns the upper-case form of the role.
func (r Role) Normalize() Role {
	return Role(strings.ToUpper(strings.TrimSpace(string(r))))
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r.Normalize() {
	case RoleCitizen, RoleOfficer, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// User is a row of the User table.
type User struct {
	ID          string     `db:"userId"`
	Email       *string    `db:"email"`
	PhoneNumber *string    `db:"phoneNumber"`
	Role        Role       `db:"role"`
	IsAnonymous bool       `db:"isAnonymous"`
	IsActive    bool       `db:"is_active"`
	CreatedAt   time.Time  `db:"createdAt"`
	UpdatedAt   *time.Time `db:"updatedAt"`
	LastLoginAt *time.Time `db:"lastLoginAt"`
	// Tenancy columns, read only when the store is created WithTenancy.
	TenantID *string `db:"tenant_id"`
	ClientID *string `db:"client_id"`
	// TenancyLoaded is set when TenantID and ClientID were read. A nil
	// value then means the column is NULL, not that it is absent.
	TenancyLoaded bool `db:"-"`
}

func (u *User) IsAdmin() bool {
	return u.Role.Normalize() == RoleAdmin
}

// IsOfficerOrAbove reports whether the user is an officer, supervisor or admin.
func (u *User) IsOfficerOrAbove() bool {
	switch u.Role.Normalize() {
	case RoleOfficer, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// CanAccessTenant reports whether the user may act within the tenant. Admins
// reach every tenant. Without loaded tenancy columns users are not isolated;
// with them a NULL tenant matches nothing.
func (u *User) CanAccessTenant(tenantID string) bool {
	if u.IsAdmin() {
		return true
	}
	if u.TenantID == nil {
		return !u.TenancyLoaded
	}
	return *u.TenantID == tenantID
}

// CanAccessClient reports whether the user may act within the client
// (department). Admins and supervisors reach every client.
func (u *User) CanAccessClient(clientID string) bool {
	switch u.Role.Normalize() {
	case RoleAdmin, RoleSupervisor:
		return true
	}
	if u.ClientID == nil {
		return !u.TenancyLoaded
	}
	return *u.ClientID == clientID
}
