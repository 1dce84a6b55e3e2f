package auth

// Wildcard grants every scope.
const Wildcard = "*"

// maxExpansionDepth caps BFS traversal so malformed hierarchies with wide
// fan-out cannot stall authentication.
const maxExpansionDepth = 10

// ScopeHierarchy maps a parent scope to the child scopes it implies.
// The hierarchy is configuration-only; there are no implicit inheritances.
type ScopeHierarchy map[string][]string

// Expand returns the closure of the given scopes under the hierarchy.
// Expansion is BFS from the direct scopes with a visited set absorbing
// cycles. The wildcard short-circuits: if it is held directly or reached
// through the hierarchy, the result is {"*"}.
func (h ScopeHierarchy) Expand(scopes []string) map[string]struct{} {
	for _, s := range scopes {
		if s == Wildcard {
			return map[string]struct{}{Wildcard: {}}
		}
	}

	expanded := make(map[string]struct{}, len(scopes))
	frontier := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if _, seen := expanded[s]; !seen {
			expanded[s] = struct{}{}
			frontier = append(frontier, s)
		}
	}

	for depth := 0; depth < maxExpansionDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, s := range frontier {
			for _, child := range h[s] {
				if child == Wildcard {
					return map[string]struct{}{Wildcard: {}}
				}
				if _, seen := expanded[child]; !seen {
					expanded[child] = struct{}{}
					next = append(next, child)
				}
			}
		}
		frontier = next
	}

	return expanded
}

// HasScope reports whether the expanded set satisfies scope.
func HasScope(expanded map[string]struct{}, scope string) bool {
	if _, ok := expanded[Wildcard]; ok {
		return true
	}
	_, ok := expanded[scope]
	return ok
}
