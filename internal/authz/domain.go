package authz

import (
	"encoding/binary"
	"fmt"
)

// Role is an index into a subject's 256-bit role membership set.
type Role uint8

// Well-known platform roles. scripts/seed wires their capabilities.
const (
	RoleModerator        Role = 10
	RoleUserRegistry     Role = 11
	RoleWorker           Role = 21
	RolePaymentInitiator Role = 35
)

// Resources guarded by the registry.
const (
	ResourceAuthz    = "authz"
	ResourceEscrow   = "escrow"
	ResourceWorkflow = "workflow"
	ResourcePayments = "payments"
)

// Registry administrative operations, self-hosted: each mutator is gated by
// a MayInvoke check against its own operation name.
const (
	OpGrantRole        = "grant_role"
	OpRevokeRole       = "revoke_role"
	OpGrantCapability  = "grant_capability"
	OpRevokeCapability = "revoke_capability"
	OpSetRoot          = "set_root"
	OpSetPublic        = "set_public"
)

// RoleSet is a fixed 256-bit membership set, one bit per role. Word 0 holds
// roles 0-63, word 3 roles 192-255.
type RoleSet [4]uint64

// Has reports whether the role bit is set.
func (s RoleSet) Has(r Role) bool {
	return s[r/64]&(1<<(uint(r)%64)) != 0
}

// Add sets the role bit. Adding a held role is a no-op.
func (s *RoleSet) Add(r Role) {
	s[r/64] |= 1 << (uint(r) % 64)
}

// Remove clears the role bit, the exact inverse of Add.
func (s *RoleSet) Remove(r Role) {
	s[r/64] &^= 1 << (uint(r) % 64)
}

// Intersects reports whether the two sets share at least one role.
func (s RoleSet) Intersects(o RoleSet) bool {
	for i := range s {
		if s[i]&o[i] != 0 {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no role bit is set.
func (s RoleSet) IsEmpty() bool {
	return s == RoleSet{}
}

// Roles returns the individual members of the set in ascending order.
func (s RoleSet) Roles() []Role {
	var out []Role
	for i := 0; i < 256; i++ {
		if s.Has(Role(i)) {
			out = append(out, Role(i))
		}
	}
	return out
}

// String renders the set as a 256-bit big-endian hex word.
func (s RoleSet) String() string {
	return fmt.Sprintf("0x%016x%016x%016x%016x", s[3], s[2], s[1], s[0])
}

// Bytes encodes the set as 32 big-endian bytes for storage.
func (s RoleSet) Bytes() []byte {
	out := make([]byte, 32)
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint64(out[i*8:], s[3-i])
	}
	return out
}

// RoleSetFromBytes decodes a set previously produced by Bytes. Short or nil
// input yields the empty set.
func RoleSetFromBytes(b []byte) RoleSet {
	var s RoleSet
	if len(b) != 32 {
		return s
	}
	for i := 0; i < 4; i++ {
		s[3-i] = binary.BigEndian.Uint64(b[i*8:])
	}
	return s
}

// Capability identifies a protected operation on a resource.
type Capability struct {
	Resource  string
	Operation string
}
