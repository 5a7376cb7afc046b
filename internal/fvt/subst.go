package fvt

import (
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var varRe = regexp.MustCompile(`\$\{([A-Za-z0-9_.:-]+)\}`)

// vars resolves ${name} references. Lookup order: suite/run variables,
// built-ins, then env:NAME from the process environment. Unknown names are
// left in place so the failure shows up in the request.
type vars map[string]string

func (v vars) expand(s string) string {
	return v.replace(s, func(val string) string { return val })
}

// expandPath expands a gjson/sjson path. Values are escaped so an object
// name like "my.pol" stays one component.
func (v vars) expandPath(s string) string {
	return v.replace(s, gjson.Escape)
}

func (v vars) replace(s string, quote func(string) string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return varRe.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if val, ok := v[name]; ok {
			return quote(val)
		}
		switch {
		case name == "uuid":
			return quote(uuid.NewString())
		case strings.HasPrefix(name, "env:"):
			if val, ok := os.LookupEnv(name[4:]); ok {
				return quote(val)
			}
		}
		return m
	})
}

// expandAny walks decoded YAML/JSON values, expanding every string,
// including map keys since object names often carry variables.
func (v vars) expandAny(in any) any {
	switch t := in.(type) {
	case string:
		return v.expand(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[v.expand(k)] = v.expandAny(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			ks, _ := k.(string)
			out[v.expand(ks)] = v.expandAny(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = v.expandAny(val)
		}
		return out
	}
	return in
}

func (v vars) expandMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, val := range in {
		out[v.expand(k)] = v.expand(val)
	}
	return out
}
