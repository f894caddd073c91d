package vm

// AccessType is the kind of memory access a translation is performed for.
type AccessType uint8

// The supported access types.
const (
	AccessLoad AccessType = iota
	AccessStore
	AccessFetch
)

// RequiredFlag returns the permission bit a leaf entry must carry for the
// access.
func (a AccessType) RequiredFlag() Flags {
	switch a {
	case AccessStore:
		return FlagWrite
	case AccessFetch:
		return FlagExec
	default:
		return FlagRead
	}
}

func (a AccessType) String() string {
	switch a {
	case AccessLoad:
		return "load"
	case AccessStore:
		return "store"
	case AccessFetch:
		return "fetch"
	default:
		return "unknown"
	}
}

// ParseAccessType converts "load", "store", or "fetch" into an AccessType.
// An empty string means a load.
func ParseAccessType(s string) (AccessType, bool) {
	switch s {
	case "", "load", "read", "r":
		return AccessLoad, true
	case "store", "write", "w":
		return AccessStore, true
	case "fetch", "exec", "x":
		return AccessFetch, true
	default:
		return AccessLoad, false
	}
}
