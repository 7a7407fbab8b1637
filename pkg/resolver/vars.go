package resolver

// Merge returns a new tree with overlay applied on top of base. Nested maps
// are merged recursively; scalars in overlay win.
func Merge(base, overlay Vars) Vars {
	out := make(Vars, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if existing, ok := asMap(out[k]); ok {
			if incoming, ok := asMap(v); ok {
				out[k] = map[string]any(Merge(existing, incoming))
				continue
			}
		}
		out[k] = v
	}
	return out
}
