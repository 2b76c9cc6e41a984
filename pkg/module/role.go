package module

import (
	"fmt"
	"strings"

	xerrors "Auditum/internal/errors"
)

// Role is the functional category a module declares in its manifest.
type Role string

const (
	// RoleIO modules sit on the request/response path of the host.
	RoleIO Role = "io"
	// RoleScraper modules answer search queries.
	RoleScraper Role = "scraper"
)

// InitCapability is the capability invoked exactly once when a module is loaded.
const InitCapability = "init"

// contracts lists, per role, the capabilities a loaded surface must expose.
// Order is significant: validation and diagnostics follow it.
var contracts = map[Role][]string{
	RoleIO:      {InitCapability, "onRequest", "onResponse"},
	RoleScraper: {InitCapability, "search"},
}

// roleOrder keeps Roles() stable.
var roleOrder = []Role{RoleIO, RoleScraper}

// Roles returns every recognized role.
func Roles() []Role {
	out := make([]Role, len(roleOrder))
	copy(out, roleOrder)
	return out
}

// Valid reports whether r is a recognized role.
func (r Role) Valid() bool {
	_, ok := contracts[r]
	return ok
}

func (r Role) String() string { return string(r) }

// RequiredCapabilities returns the ordered capability names a module of the
// given role must expose. The returned slice is a copy.
func RequiredCapabilities(role Role) ([]string, error) {
	caps, ok := contracts[role]
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnknownRole, fmt.Sprintf("unknown module role %q", string(role)),
			xerrors.WithMetadata(MetaRole, string(role)))
	}
	out := make([]string, len(caps))
	copy(out, caps)
	return out, nil
}

// ParseRole converts a manifest value into a Role.
func ParseRole(value string) (Role, error) {
	role := Role(strings.TrimSpace(value))
	if !role.Valid() {
		return "", xerrors.New(xerrors.CodeInvalidRole, fmt.Sprintf("invalid module type %q", value),
			xerrors.WithMetadata(MetaRole, value))
	}
	return role, nil
}
