package module

import (
	"context"
	"sort"
)

// Capability is an invocable member of a loaded module.
type Capability func(ctx context.Context, args ...any) (any, error)

// Surface is the capability table of a loaded module. Values that are not
// Capabilities are kept so modules can export plain data, but they never
// satisfy a role contract.
type Surface map[string]any

// Lookup returns the named capability when it is present and invocable.
func (s Surface) Lookup(name string) (Capability, bool) {
	if s == nil {
		return nil, false
	}
	return asCapability(s[name])
}

// Names returns the sorted member names of the surface.
func (s Surface) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func asCapability(v any) (Capability, bool) {
	switch fn := v.(type) {
	case Capability:
		return fn, fn != nil
	case func(context.Context, ...any) (any, error):
		return fn, fn != nil
	default:
		return nil, false
	}
}

// ValidateStructure reports whether surface exposes, as invocable members,
// every capability the role requires. Unknown roles never validate.
func ValidateStructure(role Role, surface Surface) bool {
	missing, err := MissingCapabilities(role, surface)
	return err == nil && len(missing) == 0
}

// MissingCapabilities lists, in contract order, the required capabilities the
// surface lacks or exposes as non-invocable values.
func MissingCapabilities(role Role, surface Surface) ([]string, error) {
	required, err := RequiredCapabilities(role)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, name := range required {
		if _, ok := surface.Lookup(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}
