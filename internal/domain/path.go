package domain

// MaxHierarchyDepth is the number of ancestors a node keeps in its path and
// the deepest relation that earns commission.
const MaxHierarchyDepth = 3

// BuildAncestorPath returns the path of a node bound under parent: the
// parent's path followed by the parent, keeping only the last depth entries.
func BuildAncestorPath(parentPath []string, parentID string, depth int) []string {
	path := make([]string, 0, len(parentPath)+1)
	path = append(path, parentPath...)
	path = append(path, parentID)
	return TruncatePath(path, depth)
}

// TruncatePath drops the oldest ancestors until at most depth remain.
func TruncatePath(path []string, depth int) []string {
	if depth <= 0 {
		return []string{}
	}
	if len(path) <= depth {
		return append([]string{}, path...)
	}
	return append([]string{}, path[len(path)-depth:]...)
}

// ReversePath returns the path nearest ancestor first.
func ReversePath(path []string) []string {
	out := make([]string, len(path))
	for i, id := range path {
		out[len(path)-1-i] = id
	}
	return out
}

// DepthInPath returns how many hops separate the owner of path from
// ancestorID, or 0 when ancestorID is not in path.
func DepthInPath(path []string, ancestorID string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == ancestorID {
			return len(path) - i
		}
	}
	return 0
}

// PathContains reports whether id appears in path.
func PathContains(path []string, id string) bool {
	return DepthInPath(path, id) > 0
}

// RebasePath recomputes the path of a descendant of movedID after movedID
// has been given newMovedPath. The part of the descendant's path from
// movedID downwards is kept and the moved node's new ancestors are put in
// front of it.
func RebasePath(descendantPath []string, movedID string, newMovedPath []string, depth int) []string {
	idx := -1
	for i := len(descendantPath) - 1; i >= 0; i-- {
		if descendantPath[i] == movedID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return TruncatePath(descendantPath, depth)
	}
	path := make([]string, 0, len(newMovedPath)+len(descendantPath)-idx)
	path = append(path, newMovedPath...)
	path = append(path, descendantPath[idx:]...)
	return TruncatePath(path, depth)
}

// PathsEqual compares two paths element-wise.
func PathsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
