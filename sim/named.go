package sim

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// NameOf returns the name of a hook domain, or an empty string if the domain
// has no name.
func NameOf(domain any) string {
	if named, ok := domain.(Named); ok {
		return named.Name()
	}

	return ""
}
