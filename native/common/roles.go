package common

import (
	"errors"
	"fmt"
	"strings"

	"intentlend/core/state"
	"intentlend/crypto"
)

// ErrMissingAuthorization is returned when the caller lacks a required role.
var ErrMissingAuthorization = errors.New("missing authorization")

// Role is a capability bit. A holder's roles are stored as one bitset.
type Role uint64

const (
	RoleAdmin Role = 1 << iota
	RoleMatcher
	RoleLiquidator
	RoleOperator
)

var roleNames = []struct {
	role Role
	name string
}{
	{RoleAdmin, "admin"},
	{RoleMatcher, "matcher"},
	{RoleLiquidator, "liquidator"},
	{RoleOperator, "operator"},
}

func (r Role) Has(other Role) bool { return other != 0 && r&other == other }

func (r Role) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	for _, entry := range roleNames {
		if r&entry.role != 0 {
			parts = append(parts, entry.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseRoles converts names such as "matcher,liquidator" into a bitset.
func ParseRoles(names ...string) (Role, error) {
	var out Role
	for _, raw := range names {
		for _, part := range strings.Split(raw, ",") {
			name := strings.ToLower(strings.TrimSpace(part))
			if name == "" {
				continue
			}
			found := false
			for _, entry := range roleNames {
				if entry.name == name {
					out |= entry.role
					found = true
					break
				}
			}
			if !found {
				return 0, fmt.Errorf("unknown role %q", part)
			}
		}
	}
	return out, nil
}

// AuthorizationPort answers capability questions for every component.
type AuthorizationPort interface {
	HasRole(holder crypto.Address, role Role) bool
}

// Require returns ErrMissingAuthorization unless holder carries role. Admins
// do not implicitly inherit other roles.
func Require(auth AuthorizationPort, holder crypto.Address, role Role) error {
	if auth == nil || holder.IsZero() || !auth.HasRole(holder, role) {
		return fmt.Errorf("%w: %s requires %s", ErrMissingAuthorization, holder, role)
	}
	return nil
}

// RoleSet is a static AuthorizationPort.
type RoleSet map[crypto.Address]Role

func (s RoleSet) HasRole(holder crypto.Address, role Role) bool {
	return s[holder].Has(role)
}

// StateAuthorizer reads role bitsets from committed state.
type StateAuthorizer struct {
	State *state.Manager
}

func (a StateAuthorizer) HasRole(holder crypto.Address, role Role) bool {
	if a.State == nil {
		return false
	}
	var bits uint64
	err := a.State.View(func(tx *state.Tx) error {
		var err error
		bits, err = tx.Roles(holder)
		return err
	})
	if err != nil {
		return false
	}
	return Role(bits).Has(role)
}

// Grant adds role to holder inside tx.
func Grant(tx *state.Tx, holder crypto.Address, role Role) error {
	bits, err := tx.Roles(holder)
	if err != nil {
		return err
	}
	return tx.SetRoles(holder, bits|uint64(role))
}

// Revoke removes role from holder inside tx.
func Revoke(tx *state.Tx, holder crypto.Address, role Role) error {
	bits, err := tx.Roles(holder)
	if err != nil {
		return err
	}
	return tx.SetRoles(holder, bits&^uint64(role))
}
