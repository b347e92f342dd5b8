package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"
)

// refPrefix and refSuffix delimit a reference; in the exact-match form a param value equal to
// "${node_id}" resolves to the referenced node's result object, not its
// string form.
const refPrefix = "${"
const refSuffix = "}"

// resolveParam resolves a single raw param value against results:
//   - a string value matching exactly "${node_id}" is replaced by the
//     referenced node's result object (any type is preserved);
//   - occurrences of "${node_id}" embedded in a larger string are textually
//     substituted with the result's string form (collections JSON-encoded);
//   - non-string values pass through unchanged;
//   - an unresolved or unknown reference returns an error, which the caller
//     turns into a node-level failure, not a scheduler error.
func resolveParam(raw any, results map[string]any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}
	if id, exact := exactRef(s); exact {
		v, ok := results[id]
		if !ok {
			return nil, fmt.Errorf("unresolved reference to node %q", id)
		}
		return v, nil
	}
	if !strings.Contains(s, refPrefix) {
		return s, nil
	}
	return substituteEmbedded(s, results)
}

// exactRef reports whether s is exactly "${node_id}" with nothing else, and
// returns node_id.
func exactRef(s string) (string, bool) {
	if !strings.HasPrefix(s, refPrefix) || !strings.HasSuffix(s, refSuffix) {
		return "", false
	}
	inner := s[len(refPrefix) : len(s)-len(refSuffix)]
	if inner == "" || strings.ContainsAny(inner, "{}") {
		return "", false
	}
	return inner, true
}

// substituteEmbedded replaces every "${node_id}" occurrence within s with
// the string form of the referenced result (JSON-encoding non-scalar
// values), leaving the rest of the string intact.
func substituteEmbedded(s string, results map[string]any) (string, error) {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, refPrefix)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], refSuffix)
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start
		id := rest[start+len(refPrefix) : end]
		b.WriteString(rest[:start])
		v, ok := results[id]
		if !ok {
			return "", fmt.Errorf("unresolved reference to node %q", id)
		}
		b.WriteString(stringifyResult(v))
		rest = rest[end+len(refSuffix):]
	}
	return b.String(), nil
}

func stringifyResult(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	}
	switch v.(type) {
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// resolveParams resolves every entry of raw against results, stopping at
// the first unresolved reference.
func resolveParams(raw map[string]any, results map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		resolved, err := resolveParam(v, results)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}
