package fvt

import (
	"encoding/json"
	"fmt"
	"sort"
)

// normalize round-trips a value through JSON so YAML ints, JSON floats and
// nested map types compare alike.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Subset reports the first difference between expected and actual, where
// expected objects only need their own keys present in actual, the way the
// REST test callbacks compare a posted payload with the configuration read
// back. Arrays must have the same length and every expected element must
// match a distinct actual element, in any order.
func Subset(expected, actual any) error {
	e, err := normalize(expected)
	if err != nil {
		return fmt.Errorf("expected value: %w", err)
	}
	a, err := normalize(actual)
	if err != nil {
		return fmt.Errorf("actual value: %w", err)
	}
	return subset("$", e, a)
}

func subset(path string, e, a any) error {
	switch ev := e.(type) {
	case map[string]any:
		av, ok := a.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %s", path, describe(a))
		}
		keys := make([]string, 0, len(ev))
		for k := range ev {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sub, ok := av[k]
			if !ok {
				return fmt.Errorf("%s.%s: missing", path, k)
			}
			if err := subset(path+"."+k, ev[k], sub); err != nil {
				return err
			}
		}
		return nil
	case []any:
		av, ok := a.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array, got %s", path, describe(a))
		}
		if len(ev) != len(av) {
			return fmt.Errorf("%s: expected %d elements, got %d", path, len(ev), len(av))
		}
		fits := make([][]bool, len(ev))
		for i, item := range ev {
			fits[i] = make([]bool, len(av))
			for j, cand := range av {
				fits[i][j] = subset(path, item, cand) == nil
			}
		}
		owner := make([]int, len(av))
		for j := range owner {
			owner[j] = -1
		}
		for i, item := range ev {
			if !augment(i, fits, owner, make([]bool, len(av))) {
				return fmt.Errorf("%s[%d]: no element matches %s", path, i, describe(item))
			}
		}
		return nil
	default:
		if e != a {
			return fmt.Errorf("%s: expected %s, got %s", path, describe(e), describe(a))
		}
		return nil
	}
}

// augment finds an actual element for expected element i, moving earlier
// assignments along an alternating path when needed. owner[j] is the
// expected index holding actual element j, or -1.
func augment(i int, fits [][]bool, owner []int, seen []bool) bool {
	for j, match := range fits[i] {
		if !match || seen[j] {
			continue
		}
		seen[j] = true
		if owner[j] < 0 || augment(owner[j], fits, owner, seen) {
			owner[j] = i
			return true
		}
	}
	return false
}

func describe(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	if len(b) > 120 {
		return string(b[:117]) + "..."
	}
	return string(b)
}
