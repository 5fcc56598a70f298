package store

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "triplab/pkg/errors"
)

// rootDepth is the number of leading path segments that name a document.
const rootDepth = 2

const forbiddenSegmentChars = ".#$[]"

// splitPath validates p and returns its segments. Leading and trailing
// slashes are ignored.
func splitPath(p string) ([]string, error) {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil, invalidPath(p, "empty path")
	}
	segs := strings.Split(trimmed, "/")
	for _, s := range segs {
		if s == "" {
			return nil, invalidPath(p, "empty segment")
		}
		if strings.ContainsAny(s, forbiddenSegmentChars) {
			return nil, invalidPath(p, "segment contains one of "+forbiddenSegmentChars)
		}
	}
	return segs, nil
}

// splitRoot separates a path into its document root and the path inside it.
func splitRoot(p string) (root string, rest []string, err error) {
	segs, err := splitPath(p)
	if err != nil {
		return "", nil, err
	}
	if len(segs) < rootDepth {
		return "", nil, invalidPath(p, fmt.Sprintf("path must have at least %d segments", rootDepth))
	}
	return strings.Join(segs[:rootDepth], "/"), segs[rootDepth:], nil
}

func invalidPath(p, reason string) error {
	return apperrors.NewValidationError("invalid document path", map[string]interface{}{
		"path":   p,
		"reason": reason,
	})
}

// normalize converts an arbitrary Go value into the JSON tree form
// (map[string]interface{}, []interface{}, string, float64, bool, nil),
// with empty objects and arrays pruned.
func normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	var raw []byte
	switch t := v.(type) {
	case json.RawMessage:
		raw = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		raw = b
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(tree), nil
}

// prune drops null members and empty containers, the way a hierarchical
// store treats "no children" as "absent".
func prune(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if c := prune(child); c == nil {
				delete(t, k)
			} else {
				t[k] = c
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []interface{}:
		if len(t) == 0 {
			return nil
		}
		return t
	default:
		return v
	}
}

// valueAt walks segs below node. Missing children yield nil.
func valueAt(node interface{}, segs []string) interface{} {
	for _, s := range segs {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node = m[s]
	}
	return node
}

// setAt writes v at segs below node and returns the new node. A nil v deletes,
// and any object left empty by the delete is removed as well.
func setAt(node interface{}, segs []string, v interface{}) interface{} {
	if len(segs) == 0 {
		return v
	}
	m, ok := node.(map[string]interface{})
	if !ok {
		if v == nil {
			return node
		}
		m = map[string]interface{}{}
	}
	child := setAt(m[segs[0]], segs[1:], v)
	if child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// decodeDoc parses a stored document. nil bytes are an absent document.
func decodeDoc(b []byte) (interface{}, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var tree interface{}
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, fmt.Errorf("corrupt document: %w", err)
	}
	return tree, nil
}

// encodeDoc is the inverse of decodeDoc. encoding/json sorts map keys, so
// equal trees always encode to equal bytes.
func encodeDoc(tree interface{}) ([]byte, error) {
	if tree == nil {
		return nil, nil
	}
	return json.Marshal(tree)
}

// encodeValue renders a subtree for a Snapshot.
func encodeValue(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
