package model

import (
	"database/sql"
	"time"
)

// Role is the closed set of values stored in account.role.  Only
// RoleCustomer, RoleStaff and RoleAdmin are live roles; RolePending and
// RoleDeleted mark accounts that cannot log in or be transitioned.
type Role string

const (
	RoleCustomer Role = "user"
	RoleStaff    Role = "courier"
	RoleAdmin    Role = "admin"
	RolePending  Role = "pending"
	RoleDeleted  Role = "delete"
)

// ParseRole maps an external role name onto a live Role.  Both the stored
// names (user, courier) and the descriptive ones (customer, staff) are
// accepted.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "user", "customer":
		return RoleCustomer, true
	case "courier", "staff":
		return RoleStaff, true
	case "admin":
		return RoleAdmin, true
	}
	return "", false
}

// Live reports whether the role belongs to an account that may log in.
func (r Role) Live() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return true
	case RolePending, RoleDeleted:
		return false
	}
	return false
}

// Account mirrors a row of the `account` table.  Only the columns the
// session manager and the transition orchestrator need are mapped.
//
// Fields:
//  ID       – varchar primary key (year based, e.g. 2024000123).
//  Email    – contact identity; rewritten to a non-deliverable form on delete.
//  Name     – display name used in notifications.
//  Password – bcrypt hash.
//  Role     – one of the Role constants.
//  Point    – point balance; only meaningful for customers (nullable).
//  Club     – organisational flag, kept only on customer accounts.
//  Note     – free-form admin note, deletion reasons are appended here.
type Account struct {
	ID        string        `db:"id"`       // account.id
	Email     string        `db:"email"`    // account.email
	Name      string        `db:"name"`     // account.name
	Password  string        `db:"password"` // account.password
	Role      Role          `db:"role"`     // account.role
	Point     sql.NullInt64 `db:"point"`    // account.point (nullable)
	Club      bool          `db:"club"`     // account.club
	Note      string        `db:"note"`     // account.note
	CreatedAt time.Time     `db:"createAt"` // account.createAt
}

// Ban is a row of the `ban` table: a contact email that may not register
// again.
type Ban struct {
	Email     string    `db:"email"`     // ban.email
	Reason    string    `db:"reason"`    // ban.reason
	Timestamp time.Time `db:"timestamp"` // ban.timestamp
}
