package tree

import (
	"fmt"
	"sort"
	"strings"

	"covdiff/internal/probes"
)

// TreemapNode is one flattened node of a treemap. Leaves are methods;
// inner nodes are path segments with single-child chains collapsed.
type TreemapNode struct {
	Name       string       `json:"name"`
	FullName   string       `json:"fullName"`
	Parent     string       `json:"parent,omitempty"`
	Count      probes.Count `json:"count"`
	Params     string       `json:"params,omitempty"`
	ReturnType string       `json:"returnType,omitempty"`
	Leaf       bool         `json:"leaf"`
}

type tmNode struct {
	name       string
	fullName   string
	count      probes.Count
	params     string
	returnType string
	leaf       bool
	children   map[string]*tmNode
}

// Treemap flattens t into treemap nodes in depth-first order. Only paths
// under rootPrefix are kept when it is non-empty. Probe counts are summed
// bottom-up from the method leaves.
func Treemap(t *PackageTree, rootPrefix string) ([]TreemapNode, error) {
	roots := map[string]*tmNode{}

	for _, pkg := range t.Packages {
		for _, class := range pkg.Classes {
			for _, m := range class.Methods {
				parts := strings.Split(class.Path, "/")
				parts = append(parts, m.Name+m.Desc)

				path := ""
				level := roots
				for i, part := range parts {
					if path == "" {
						path = part
					} else {
						path = path + "/" + part
					}
					n, ok := level[part]
					if !ok {
						n = &tmNode{name: part, fullName: path, children: map[string]*tmNode{}}
						level[part] = n
					}
					if i == len(parts)-1 {
						n.leaf = true
						n.count = m.Count
						n.params = m.Signature.Params
						n.returnType = m.Signature.ReturnType
					}
					level = n.children
				}
			}
		}
	}

	for _, r := range roots {
		sumCounts(r)
	}

	var out []TreemapNode
	for _, name := range sortedKeys(roots) {
		out = collapse(out, roots[name], "")
	}

	if rootPrefix != "" {
		filtered := out[:0]
		for _, n := range out {
			if strings.HasPrefix(n.FullName, rootPrefix) {
				filtered = append(filtered, n)
			}
		}
		out = filtered
	}

	if err := validateTreemap(out); err != nil {
		return nil, err
	}
	return out, nil
}

func sumCounts(n *tmNode) probes.Count {
	if n.leaf {
		return n.count
	}
	var c probes.Count
	for _, child := range n.children {
		c = c.Add(sumCounts(child))
	}
	n.count = c
	return c
}

// collapse merges a chain of single-child inner nodes into one node. The
// chain stops above a class so classes keep their own node.
func collapse(out []TreemapNode, n *tmNode, parent string) []TreemapNode {
	name := n.name
	for len(n.children) == 1 && !n.leaf {
		var child *tmNode
		for _, c := range n.children {
			child = c
		}
		if child.leaf || hasLeafChild(child) {
			break
		}
		name = name + "/" + child.name
		n = child
	}

	out = append(out, TreemapNode{
		Name:       name,
		FullName:   n.fullName,
		Parent:     parent,
		Count:      n.count,
		Params:     n.params,
		ReturnType: n.returnType,
		Leaf:       n.leaf,
	})
	for _, key := range sortedKeys(n.children) {
		out = collapse(out, n.children[key], n.fullName)
	}
	return out
}

func hasLeafChild(n *tmNode) bool {
	for _, c := range n.children {
		if c.leaf {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]*tmNode) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validateTreemap checks that every parent reference resolves, except for
// roots and nodes whose parent was filtered out by a prefix.
func validateTreemap(nodes []TreemapNode) error {
	index := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if index[n.FullName] {
			return fmt.Errorf("treemap: duplicate node %s", n.FullName)
		}
		index[n.FullName] = true
	}
	for _, n := range nodes {
		if n.Parent != "" && !strings.HasPrefix(n.FullName, n.Parent+"/") {
			return fmt.Errorf("treemap: node %s does not sit under parent %s", n.FullName, n.Parent)
		}
	}
	return nil
}
