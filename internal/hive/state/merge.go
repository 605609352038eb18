package state

import (
	"fmt"
	"strings"
)

// Op kinds as they appear on the wire.
const (
	OpAdd    = "add"
	OpRemove = "remove"
	OpMove   = "move"
	OpUpdate = "update"
)

// Op is one path-addressed instruction. Item carries the payload; for moves
// it also carries "from_path".
type Op struct {
	Op   string `json:"op"`
	Path string `json:"path"`
	Item Value  `json:"item"`
}

// Diagnostic reports one skipped or failed operation. Diagnostics never abort
// the batch.
type Diagnostic struct {
	Index   int    `json:"index"`
	Op      string `json:"op,omitempty"`
	Path    string `json:"path,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

const (
	DiagEmptyPath = "empty_path"
	DiagUnknownOp = "unknown_op"
	DiagOpFailed  = "op_failed"
)

// Apply runs the batch strictly in order against a deep copy of t. A failing
// operation leaves the intermediate tree untouched and is reported as a
// diagnostic; later operations still run. Output is deterministic for a fixed
// (t, ops) pair.
func Apply(t Tree, ops []Op) (Tree, []Diagnostic) {
	result := t.Clone()
	var diags []Diagnostic

	for i, op := range ops {
		kind := strings.ToLower(op.Op)
		if op.Path == "" {
			diags = append(diags, Diagnostic{Index: i, Op: kind, Code: DiagEmptyPath, Message: "operation has empty path"})
			continue
		}

		var (
			next Tree
			err  error
		)
		switch kind {
		case OpAdd:
			next, err = applyAdd(result, op.Path, op.Item)
		case OpRemove:
			next, err = applyRemove(result, op.Path, op.Item)
		case OpMove:
			next, err = applyMove(result, op.Path, op.Item)
		case OpUpdate:
			next, err = applyUpdate(result, op.Path, op.Item)
		default:
			diags = append(diags, Diagnostic{Index: i, Op: kind, Path: op.Path, Code: DiagUnknownOp, Message: fmt.Sprintf("unknown op %q", op.Op)})
			continue
		}
		if err != nil {
			diags = append(diags, Diagnostic{Index: i, Op: kind, Path: op.Path, Code: DiagOpFailed, Message: err.Error()})
			continue
		}
		result = next
	}
	return result, diags
}

// getPath walks a dot-separated path through nested trees. Sequences are not
// indexable; a path into one resolves to nothing.
func getPath(t Tree, path string) (Value, bool) {
	if path == "" {
		return TreeValue(t), true
	}
	cur := TreeValue(t)
	for _, part := range strings.Split(path, ".") {
		if cur.kind != KindTree {
			return Value{}, false
		}
		v, ok := cur.tree[part]
		if !ok {
			return Value{}, false
		}
		cur = v
	}
	return cur, true
}

// setPath writes v at path on a copy of t, creating intermediate trees.
// An existing non-tree value on the way is an error; t is never changed.
func setPath(t Tree, path string, v Value) (Tree, error) {
	if path == "" {
		if v.kind != KindTree {
			return nil, fmt.Errorf("cannot replace root with non-tree value")
		}
		return v.tree.Clone(), nil
	}
	result := t.Clone()
	parts := strings.Split(path, ".")
	cur := result
	for _, part := range parts[:len(parts)-1] {
		child, ok := cur[part]
		if !ok {
			child = TreeValue(Tree{})
			cur[part] = child
		} else if child.kind != KindTree {
			return nil, fmt.Errorf("path %q blocked by non-tree value at %q", path, part)
		}
		cur = child.tree
	}
	cur[parts[len(parts)-1]] = v
	return result, nil
}

// deletePath removes whatever is at path on a copy of t. A missing segment is
// a no-op; a non-tree segment on the way is an error.
func deletePath(t Tree, path string) (Tree, error) {
	if path == "" {
		return nil, fmt.Errorf("cannot delete root path")
	}
	result := t.Clone()
	parts := strings.Split(path, ".")
	cur := result
	for _, part := range parts[:len(parts)-1] {
		child, ok := cur[part]
		if !ok {
			return result, nil
		}
		if child.kind != KindTree {
			return nil, fmt.Errorf("path %q blocked by non-tree value at %q", path, part)
		}
		cur = child.tree
	}
	delete(cur, parts[len(parts)-1])
	return result, nil
}

func applyAdd(t Tree, path string, item Value) (Tree, error) {
	target, ok := getPath(t, path)
	switch {
	case !ok:
		return setPath(t, path, item.Clone())
	case target.kind == KindSeq:
		seq := append(append([]Value{}, target.seq...), item.Clone())
		return setPath(t, path, SeqValue(seq))
	case target.kind == KindTree && item.kind == KindTree:
		return setPath(t, path, shallowMerge(target.tree, item.tree))
	default:
		return setPath(t, path, item.Clone())
	}
}

func applyRemove(t Tree, path string, item Value) (Tree, error) {
	// An id-bearing item removes matching elements from the parent sequence,
	// so the remove survives concurrent reordering of siblings.
	if id, ok := itemID(item); ok {
		parentPath := parentOf(path)
		if parent, found := getPath(t, parentPath); found && parent.kind == KindSeq {
			filtered := make([]Value, 0, len(parent.seq))
			for _, elem := range parent.seq {
				if eid, ok := itemID(elem); ok && eid == id {
					continue
				}
				filtered = append(filtered, elem)
			}
			return setPath(t, parentPath, SeqValue(filtered))
		}
	}
	return deletePath(t, path)
}

func applyMove(t Tree, path string, item Value) (Tree, error) {
	fromPath := ""
	if item.kind == KindTree {
		if v, ok := item.tree["from_path"]; ok {
			if s, ok := v.scalar.(string); ok {
				fromPath = s
			}
		}
	}
	if fromPath == "" {
		return nil, fmt.Errorf("move missing from_path")
	}
	moved, ok := getPath(t, fromPath)
	if !ok {
		// Nothing at the source: a replayed or out-of-order move, harmless.
		return t, nil
	}
	intermediate, err := deletePath(t, fromPath)
	if err != nil {
		return nil, err
	}
	return applyAdd(intermediate, path, moved)
}

func applyUpdate(t Tree, path string, item Value) (Tree, error) {
	target, ok := getPath(t, path)
	switch {
	case !ok:
		return setPath(t, path, item.Clone())
	case target.kind == KindTree && item.kind == KindTree:
		return setPath(t, path, shallowMerge(target.tree, item.tree))
	default:
		return setPath(t, path, item.Clone())
	}
}

// shallowMerge overlays src onto dst: src keys win, other dst keys survive.
func shallowMerge(dst, src Tree) Value {
	out := dst.Clone()
	for k, v := range src {
		out[k] = v.Clone()
	}
	return TreeValue(out)
}

func itemID(v Value) (string, bool) {
	if v.kind != KindTree {
		return "", false
	}
	idv, ok := v.tree["id"]
	if !ok {
		return "", false
	}
	s, ok := idv.scalar.(string)
	return s, ok && s != ""
}

func parentOf(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[:i]
	}
	return ""
}
