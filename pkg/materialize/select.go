package materialize

import "strings"

// PayloadKey is the mapping key the remote service wraps its payload in.
const PayloadKey = "data"

// Extensions lists asset formats from most to least preferred: binary mesh,
// text mesh, archive, then point-cloud and legacy mesh.
var Extensions = []string{".glb", ".gltf", ".zip", ".ply", ".obj"}

// DefaultExtension is used when a candidate names no known format.
const DefaultExtension = ".glb"

// Flatten collects every string in r in traversal order. A mapping's payload
// value is visited first, then all of its values in order, so a payload
// nested in an envelope is never hidden by sibling keys.
func Flatten(r RawResult) []string {
	var out []string
	flatten(r, &out)
	return out
}

func flatten(r RawResult, out *[]string) {
	switch r.Kind {
	case KindString:
		*out = append(*out, r.Str)
	case KindSequence:
		for _, item := range r.Items {
			flatten(item, out)
		}
	case KindMapping:
		if payload, ok := r.Lookup(PayloadKey); ok {
			flatten(payload, out)
		}
		for _, f := range r.Fields {
			flatten(f.Value, out)
		}
	}
}

// SelectCandidate picks the string most likely to reference an asset: a
// suffix match in extension priority order, then a substring match in the
// same order, then the first string.
func SelectCandidate(strs []string) (string, bool) {
	if len(strs) == 0 {
		return "", false
	}
	for _, ext := range Extensions {
		for _, s := range strs {
			if strings.HasSuffix(strings.ToLower(strings.TrimSpace(s)), ext) {
				return s, true
			}
		}
	}
	for _, ext := range Extensions {
		for _, s := range strs {
			if strings.Contains(strings.ToLower(s), ext) {
				return s, true
			}
		}
	}
	return strs[0], true
}

// ExtensionFor returns the first priority extension contained in candidate.
func ExtensionFor(candidate string) string {
	lower := strings.ToLower(candidate)
	for _, ext := range Extensions {
		if strings.Contains(lower, ext) {
			return ext
		}
	}
	return DefaultExtension
}
