package station

// Resolver maps sub-station extension codes to their parent main station and
// carries the display names and regional grouping used for notifications.
type Resolver struct {
	names   map[string]string
	mapping map[string][]string
	nizh    map[string]struct{}
}

func New(names map[string]string, mapping map[string][]string, nizhCodes []string) *Resolver {
	nizh := make(map[string]struct{}, len(nizhCodes))
	for _, code := range nizhCodes {
		nizh[code] = struct{}{}
	}
	return &Resolver{names: names, mapping: mapping, nizh: nizh}
}

// Main resolves a station code to its main station. A code present in the
// name table wins over any sub-station mapping entry. Returns false for
// codes known to neither table.
func (r *Resolver) Main(code string) (string, bool) {
	if _, ok := r.names[code]; ok {
		return code, true
	}
	for parent, children := range r.mapping {
		for _, child := range children {
			if child == code {
				return parent, true
			}
		}
	}
	return "", false
}

// Known reports whether the code appears anywhere in the station tables.
func (r *Resolver) Known(code string) bool {
	_, ok := r.Main(code)
	return ok
}

// Name returns the display name for a code, resolving sub-stations to their
// parent first. Unknown codes come back unchanged.
func (r *Resolver) Name(code string) string {
	if name, ok := r.names[code]; ok {
		return name
	}
	if main, ok := r.Main(code); ok {
		if name, ok := r.names[main]; ok {
			return name
		}
	}
	return code
}

// Nizh reports whether the code belongs to the Nizhny region channel group.
func (r *Resolver) Nizh(code string) bool {
	_, ok := r.nizh[code]
	return ok
}
