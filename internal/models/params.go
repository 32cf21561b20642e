package models

import (
	"fmt"
	"sort"
	"strings"
)

// ParametersFile mirrors the training params.yaml: a flat parameters map
// and/or a "train" section holding the XGBoost hyperparameters.
type ParametersFile struct {
	Parameters map[string]string `json:"parameters" yaml:"parameters"`
	Train      map[string]any    `json:"train,omitempty" yaml:"train,omitempty"`
}

// Flatten merges both sections into one string map. Nested train values are
// joined with dots; an explicit parameters entry wins over a train entry.
func (f ParametersFile) Flatten() map[string]string {
	out := make(map[string]string, len(f.Parameters)+len(f.Train))
	flattenInto(out, "", f.Train)
	for k, v := range f.Parameters {
		out[k] = v
	}
	return out
}

func flattenInto(out map[string]string, prefix string, in map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenInto(out, key, val)
		case []any:
			parts := make([]string, len(val))
			for i, item := range val {
				parts[i] = fmt.Sprint(item)
			}
			out[key] = "[" + strings.Join(parts, ",") + "]"
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// SortedKeys returns the keys of params in lexical order.
func SortedKeys(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
