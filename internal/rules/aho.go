package rules

import "errors"

// AhoMatcher finds any of a fixed set of literals in one pass.
type AhoMatcher struct {
	nodes []ahoNode
	fold  bool
}

type ahoNode struct {
	next map[byte]int
	fail int
	out  []string
}

// NewAhoMatcher builds the automaton. With fold set, patterns and input are
// compared ASCII case-insensitively.
func NewAhoMatcher(patterns []string, fold bool) (*AhoMatcher, error) {
	if len(patterns) == 0 {
		return nil, errors.New("patterns are required")
	}

	nodes := []ahoNode{{next: map[byte]int{}, fail: 0}}
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		current := 0
		for i := 0; i < len(pattern); i++ {
			b := pattern[i]
			if fold {
				b = lowerASCII(b)
			}
			next, ok := nodes[current].next[b]
			if !ok {
				nodes = append(nodes, ahoNode{next: map[byte]int{}, fail: 0})
				next = len(nodes) - 1
				nodes[current].next[b] = next
			}
			current = next
		}
		nodes[current].out = append(nodes[current].out, pattern)
	}

	if len(nodes) == 1 {
		return nil, errors.New("no non-empty patterns")
	}

	queue := make([]int, 0, len(nodes[0].next))
	for _, next := range nodes[0].next {
		nodes[next].fail = 0
		queue = append(queue, next)
	}

	for len(queue) > 0 {
		state := queue[0]
		queue = queue[1:]

		for b, next := range nodes[state].next {
			fail := nodes[state].fail
			for fail != 0 {
				if _, ok := nodes[fail].next[b]; ok {
					break
				}
				fail = nodes[fail].fail
			}
			if target, ok := nodes[fail].next[b]; ok && target != next {
				nodes[next].fail = target
			} else {
				nodes[next].fail = 0
			}
			nodes[next].out = append(nodes[next].out, nodes[nodes[next].fail].out...)
			queue = append(queue, next)
		}
	}

	return &AhoMatcher{nodes: nodes, fold: fold}, nil
}

func (m *AhoMatcher) Match(input []byte) (bool, string) {
	state := 0
	for i := 0; i < len(input); i++ {
		b := input[i]
		if m.fold {
			b = lowerASCII(b)
		}
		for state != 0 {
			if _, ok := m.nodes[state].next[b]; ok {
				break
			}
			state = m.nodes[state].fail
		}

		if next, ok := m.nodes[state].next[b]; ok {
			state = next
		}

		if len(m.nodes[state].out) > 0 {
			pattern := m.nodes[state].out[0]
			return true, snippet(input[i+1-len(pattern) : i+1])
		}
	}

	return false, ""
}

func lowerASCII(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 'a' - 'A'
	}
	return b
}
