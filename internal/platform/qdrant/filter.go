package qdrant

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	filterOpAnd = "$and"
	filterOpOr  = "$or"
	filterOpNot = "$not"
	filterOpIn  = "$in"
	filterOpEq  = "$eq"
	filterOpNe  = "$ne"
)

// Filter is a Mongo-style payload filter: {"style":"doodle", "topics":{"$in":["love"]}, "$or":[...]}.
// A bare scalar means equality. A payload field holding a list matches when any element matches.
type Filter map[string]any

type condKind int

const (
	condAll condKind = iota
	condAny
	condNot
	condEq
	condNe
	condIn
)

// Condition is a compiled Filter. It renders to a Qdrant filter and evaluates locally with
// identical semantics, so ANN and brute-force search agree on what a filter selects.
type Condition struct {
	kind     condKind
	field    string
	values   []any
	children []Condition
}

// Compile validates f. A nil or empty filter compiles to a condition matching everything.
func Compile(f Filter) (Condition, error) {
	return compileMap(f)
}

func compileMap(filter map[string]any) (Condition, error) {
	out := Condition{kind: condAll}
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := filter[key]
		k := strings.TrimSpace(key)
		if k == "" {
			continue
		}
		if !strings.HasPrefix(k, "$") {
			parts, err := compileField(k, value)
			if err != nil {
				return Condition{}, err
			}
			out.children = append(out.children, parts...)
			continue
		}
		switch strings.ToLower(k) {
		case filterOpAnd, filterOpOr:
			items, err := toObjectSlice(value)
			if err != nil {
				return Condition{}, fail("filter_compile", KindBadFilter,
					fmt.Sprintf("operator %s expects array of objects", k), err)
			}
			group := Condition{kind: condAll}
			if strings.ToLower(k) == filterOpOr {
				group.kind = condAny
			}
			for _, item := range items {
				sub, err := compileMap(item)
				if err != nil {
					return Condition{}, err
				}
				group.children = append(group.children, sub)
			}
			out.children = append(out.children, group)
		case filterOpNot:
			item, ok := value.(map[string]any)
			if !ok {
				return Condition{}, fail("filter_compile", KindBadFilter,
					fmt.Sprintf("operator %s expects an object", filterOpNot), nil)
			}
			sub, err := compileMap(item)
			if err != nil {
				return Condition{}, err
			}
			out.children = append(out.children, Condition{kind: condNot, children: []Condition{sub}})
		default:
			return Condition{}, fail("filter_compile", KindUnsupportedFilter,
				fmt.Sprintf("unsupported top-level filter operator %q", k), nil)
		}
	}
	return out, nil
}

func compileField(field string, value any) ([]Condition, error) {
	ops, ok := value.(map[string]any)
	if !ok {
		scalar, ok := toScalarValue(value)
		if !ok {
			return nil, fail("filter_compile", KindBadFilter,
				fmt.Sprintf("field %q expects scalar value or operator object", field), nil)
		}
		return []Condition{{kind: condEq, field: field, values: []any{scalar}}}, nil
	}
	if len(ops) == 0 {
		return nil, fail("filter_compile", KindBadFilter,
			fmt.Sprintf("field %q has empty operator map", field), nil)
	}
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	var out []Condition
	for _, op := range names {
		opVal := ops[op]
		switch strings.ToLower(strings.TrimSpace(op)) {
		case filterOpEq, filterOpNe:
			scalar, ok := toScalarValue(opVal)
			if !ok {
				return nil, fail("filter_compile", KindBadFilter,
					fmt.Sprintf("operator %s for field %q expects scalar value", op, field), nil)
			}
			kind := condEq
			if strings.ToLower(op) == filterOpNe {
				kind = condNe
			}
			out = append(out, Condition{kind: kind, field: field, values: []any{scalar}})
		case filterOpIn:
			values, err := toScalarSlice(opVal)
			if err != nil {
				return nil, fail("filter_compile", KindBadFilter,
					fmt.Sprintf("operator %s for field %q expects scalar array", filterOpIn, field), err)
			}
			if len(values) == 0 {
				return nil, fail("filter_compile", KindBadFilter,
					fmt.Sprintf("operator %s for field %q cannot be empty", filterOpIn, field), nil)
			}
			out = append(out, Condition{kind: condIn, field: field, values: values})
		default:
			return nil, fail("filter_compile", KindUnsupportedFilter,
				fmt.Sprintf("unsupported filter operator %q for field %q", op, field), nil)
		}
	}
	return out, nil
}

// Empty reports whether the condition places no constraint.
func (c Condition) Empty() bool {
	return c.kind == condAll && len(c.children) == 0
}

// Qdrant renders the condition as a Qdrant filter object. Empty conditions render as nil.
func (c Condition) Qdrant() map[string]any {
	if c.Empty() {
		return nil
	}
	return c.qdrantNode()
}

func (c Condition) qdrantNode() map[string]any {
	switch c.kind {
	case condEq:
		return matchValue(c.field, c.values[0])
	case condNe:
		return map[string]any{"must_not": []any{matchValue(c.field, c.values[0])}}
	case condIn:
		return map[string]any{"key": c.field, "match": map[string]any{"any": c.values}}
	case condNot:
		return map[string]any{"must_not": c.childNodes()}
	case condAny:
		return map[string]any{"should": c.childNodes()}
	default:
		return map[string]any{"must": c.childNodes()}
	}
}

func (c Condition) childNodes() []any {
	out := make([]any, 0, len(c.children))
	for _, ch := range c.children {
		out = append(out, ch.qdrantNode())
	}
	return out
}

func matchValue(key string, value any) map[string]any {
	return map[string]any{
		"key": key,
		"match": map[string]any{
			"value": value,
		},
	}
}

// Match evaluates the condition against a payload map.
func (c Condition) Match(payload map[string]any) bool {
	switch c.kind {
	case condEq, condIn:
		return fieldMatches(payload[c.field], c.values)
	case condNe:
		return !fieldMatches(payload[c.field], c.values)
	case condNot:
		for _, ch := range c.children {
			if ch.Match(payload) {
				return false
			}
		}
		return true
	case condAny:
		if len(c.children) == 0 {
			return true
		}
		for _, ch := range c.children {
			if ch.Match(payload) {
				return true
			}
		}
		return false
	default:
		for _, ch := range c.children {
			if !ch.Match(payload) {
				return false
			}
		}
		return true
	}
}

func fieldMatches(field any, want []any) bool {
	var have []any
	switch typed := field.(type) {
	case nil:
		return false
	case []any:
		have = typed
	case []string:
		for _, v := range typed {
			have = append(have, v)
		}
	default:
		have = []any{typed}
	}
	for _, h := range have {
		hv, ok := toScalarValue(h)
		if !ok {
			continue
		}
		for _, w := range want {
			if scalarEqual(hv, w) {
				return true
			}
		}
	}
	return false
}

func scalarEqual(a, b any) bool {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toObjectSlice(value any) ([]map[string]any, error) {
	rawSlice, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected []any, got %T", value)
	}
	out := make([]map[string]any, 0, len(rawSlice))
	for _, item := range rawSlice {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected map[string]any in array, got %T", item)
		}
		out = append(out, obj)
	}
	return out, nil
}

func toScalarSlice(value any) ([]any, error) {
	switch typed := value.(type) {
	case []any:
		out := make([]any, 0, len(typed))
		for _, v := range typed {
			scalar, ok := toScalarValue(v)
			if !ok {
				return nil, fmt.Errorf("expected scalar, got %T", v)
			}
			out = append(out, scalar)
		}
		return out, nil
	case []string:
		out := make([]any, 0, len(typed))
		for _, v := range typed {
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected scalar array, got %T", value)
	}
}

func toScalarValue(value any) (any, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case bool:
		return typed, true
	case int:
		return typed, true
	case int32:
		return int(typed), true
	case int64:
		return typed, true
	case uint:
		return typed, true
	case uint64:
		return typed, true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i, true
		}
		if f, err := typed.Float64(); err == nil {
			return f, true
		}
		return nil, false
	default:
		return nil, false
	}
}
