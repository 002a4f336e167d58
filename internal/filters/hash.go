package filters

import (
	"encoding/json"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint computes a structural content hash of a tree. Sibling order
// inside a branch does not affect the result, so two trees that differ only
// in condition ordering share a fingerprint. Callers on security-sensitive
// paths must confirm candidates with Equal; the hash alone is a grouping key,
// not a proof.
func Fingerprint(tree Tree) uint64 {
	switch node := tree.(type) {
	case *Branch:
		children := make([]uint64, len(node.Conditions))
		for i, child := range node.Conditions {
			children[i] = Fingerprint(child)
		}
		sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
		digest := xxhash.New()
		_, _ = digest.WriteString("branch:")
		_, _ = digest.WriteString(string(node.Aggregator))
		var buf [8]byte
		for _, child := range children {
			putUint64(buf[:], child)
			_, _ = digest.Write(buf[:])
		}
		return digest.Sum64()
	case *Leaf:
		digest := xxhash.New()
		_, _ = digest.WriteString("leaf:")
		_, _ = digest.WriteString(node.Field)
		_, _ = digest.WriteString("\x00")
		_, _ = digest.WriteString(node.Operator)
		_, _ = digest.WriteString("\x00")
		_, _ = digest.Write(canonicalValue(node.Value))
		return digest.Sum64()
	default:
		return 0
	}
}

// Equal reports deep structural equality of two trees, ignoring sibling order
// inside branches. Values compare by their canonical JSON form, so 1 and 1.0
// are equal but 1 and "1" are not.
func Equal(a, b Tree) bool {
	switch nodeA := a.(type) {
	case *Branch:
		nodeB, ok := b.(*Branch)
		if !ok || nodeA.Aggregator != nodeB.Aggregator || len(nodeA.Conditions) != len(nodeB.Conditions) {
			return false
		}
		used := make([]bool, len(nodeB.Conditions))
		for _, childA := range nodeA.Conditions {
			matched := false
			for i, childB := range nodeB.Conditions {
				if used[i] {
					continue
				}
				if Equal(childA, childB) {
					used[i] = true
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
		return true
	case *Leaf:
		nodeB, ok := b.(*Leaf)
		if !ok {
			return false
		}
		return LeafEqual(nodeA, nodeB)
	default:
		return a == nil && b == nil
	}
}

// LeafEqual compares two leaves on field, operator and canonical value.
func LeafEqual(a, b *Leaf) bool {
	if a.Field != b.Field || a.Operator != b.Operator {
		return false
	}
	return string(canonicalValue(a.Value)) == string(canonicalValue(b.Value))
}

func canonicalValue(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("!unencodable")
	}
	return raw
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}
