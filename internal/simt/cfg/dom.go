package cfg

// This file computes dominator and post-dominator trees of a control-flow
// graph.

// edges returns the neighbours of a node in one direction.
type edges func(n int) []int

// postorder computes a DFS postorder from entry following succ. Unreachable
// nodes do not appear. ponums[n] records n's position, -1 if unreachable.
func postorder(n, entry int, succ edges) (order []int, ponums []int) {
	type nodeAndIndex struct {
		n     int
		index int // number of successor edges already explored
	}

	seen := make([]bool, n)
	ponums = make([]int, n)
	for i := range ponums {
		ponums[i] = -1
	}
	order = make([]int, 0, n)

	s := make([]nodeAndIndex, 0, 32)
	s = append(s, nodeAndIndex{n: entry})
	seen[entry] = true
	for len(s) > 0 {
		tos := len(s) - 1
		x := s[tos]
		if succs := succ(x.n); x.index < len(succs) {
			s[tos].index++
			if next := succs[x.index]; !seen[next] {
				seen[next] = true
				s = append(s, nodeAndIndex{n: next})
			}
			continue
		}
		s = s[:tos]
		ponums[x.n] = len(order)
		order = append(order, x.n)
	}
	return order, ponums
}

// dominators computes immediate dominators with the iterative algorithm of
// Cooper, Harvey and Kennedy. Swapping pred and succ yields post-dominators.
//
// idom[entry] == entry; idom[n] == -1 for nodes unreachable from entry.
func dominators(n, entry int, pred, succ edges) []int {
	order, ponums := postorder(n, entry, succ)

	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[entry] = entry

	intersect := func(a, b int) int {
		for a != b {
			for ponums[a] < ponums[b] {
				a = idom[a]
			}
			for ponums[b] < ponums[a] {
				b = idom[b]
			}
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		// Reverse postorder, skipping entry (last in postorder).
		for i := len(order) - 2; i >= 0; i-- {
			b := order[i]
			newIdom := -1
			for _, p := range pred(b) {
				if idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != -1 && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	return idom
}

// dominates reports whether a dominates b in the tree described by idom.
func dominates(idom []int, a, b int) bool {
	if idom[b] == -1 || idom[a] == -1 {
		return false
	}
	for {
		if b == a {
			return true
		}
		next := idom[b]
		if next == b {
			return false
		}
		b = next
	}
}

// reducible reports whether the graph restricted to nodes reachable from
// entry becomes acyclic once back edges (u→v with v dominating u) are
// removed.
func reducible(n int, idom []int, succ edges) bool {
	indeg := make([]int, n)
	for u := 0; u < n; u++ {
		if idom[u] == -1 {
			continue
		}
		for _, v := range succ(u) {
			if !dominates(idom, v, u) {
				indeg[v]++
			}
		}
	}

	queue := make([]int, 0, n)
	reachable := 0
	for u := 0; u < n; u++ {
		if idom[u] == -1 {
			continue
		}
		reachable++
		if indeg[u] == 0 {
			queue = append(queue, u)
		}
	}

	visited := 0
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		visited++
		for _, v := range succ(u) {
			if dominates(idom, v, u) {
				continue
			}
			indeg[v]--
			if indeg[v] == 0 {
				queue = append(queue, v)
			}
		}
	}
	return visited == reachable
}
