package access

import (
	"sync"

	"github.com/mtds-alfa/kipu-bank-v2/internal/domain"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// Controller answers role-membership queries and mutates role grants. The
// ledger consumes it as an entry guard for administrative operations; it never
// gates deposits, withdrawals or queries.
type Controller interface {
	HasRole(role Role, caller domain.Holder) bool
	Grant(role Role, addr domain.Holder)
	Revoke(role Role, addr domain.Holder)
}

// RoleSet is an in-memory Controller.
type RoleSet struct {
	mu    sync.RWMutex
	roles map[Role]map[domain.Holder]struct{}
}

var _ Controller = (*RoleSet)(nil)

// NewRoleSet builds a role set with admin holding the admin role.
func NewRoleSet(admin domain.Holder) *RoleSet {
	rs := &RoleSet{roles: make(map[Role]map[domain.Holder]struct{})}
	if !admin.IsZero() {
		rs.Grant(RoleAdmin, admin)
	}
	return rs
}

func (rs *RoleSet) HasRole(role Role, caller domain.Holder) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	members, ok := rs.roles[role]
	if !ok {
		return false
	}
	_, ok = members[caller]
	return ok
}

func (rs *RoleSet) Grant(role Role, addr domain.Holder) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	members, ok := rs.roles[role]
	if !ok {
		members = make(map[domain.Holder]struct{})
		rs.roles[role] = members
	}
	members[addr] = struct{}{}
}

func (rs *RoleSet) Revoke(role Role, addr domain.Holder) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if members, ok := rs.roles[role]; ok {
		delete(members, addr)
	}
}
