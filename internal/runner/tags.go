package runner

// TagsIntersect reports whether a and b share at least one tag. Matching is
// exact and case-sensitive; an empty side never matches.
func TagsIntersect(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	set := make(map[string]struct{}, len(a))
	for _, tag := range a {
		set[tag] = struct{}{}
	}
	for _, tag := range b {
		if _, ok := set[tag]; ok {
			return true
		}
	}
	return false
}
