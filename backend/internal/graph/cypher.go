package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Attributes are stored as individual node/relationship properties under a
// prefix so they can never collide with the key, description, or provenance
// properties.
const attrPrefix = "attr_"

var attrKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// relationship property projection shared by the read queries: collects the
// prefixed attribute properties back into [key, value] pairs.
func attrProjection(varName string) string {
	return fmt.Sprintf("[k IN keys(%s) WHERE k STARTS WITH '%s' | [k, %s[k]]]", varName, attrPrefix, varName)
}

// provenanceUnion builds the ON MATCH list-union clause that adds $docID to
// the element's provenance set exactly once. A single SET statement, so the
// union is atomic at the store.
func provenanceUnion(varName string) string {
	return fmt.Sprintf(
		"%s.provenance = CASE WHEN $docID IN coalesce(%s.provenance, []) THEN %s.provenance ELSE coalesce(%s.provenance, []) + $docID END",
		varName, varName, varName, varName)
}

// fillEmptyClauses generates one SET clause per attribute that writes the
// incoming value only when the stored field is currently NULL or empty.
// Existing values are never overwritten, which is what makes re-ingestion
// lossless. Keys are validated because they become property names.
func fillEmptyClauses(varName, descParam string, attrs map[string]string) (string, map[string]any, error) {
	var b strings.Builder
	params := make(map[string]any, len(attrs))

	fmt.Fprintf(&b, "SET %s.description = CASE WHEN %s.description IS NULL OR %s.description = '' THEN $%s ELSE %s.description END",
		varName, varName, varName, descParam, varName)

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if !attrKeyPattern.MatchString(k) {
			return "", nil, fmt.Errorf("invalid attribute key %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, k := range keys {
		prop := attrPrefix + k
		param := fmt.Sprintf("%sval_%d", attrPrefix, i)
		fmt.Fprintf(&b, "\nSET %s.%s = CASE WHEN %s.%s IS NULL OR %s.%s = '' THEN $%s ELSE %s.%s END",
			varName, prop, varName, prop, varName, prop, param, varName, prop)
		params[param] = attrs[k]
	}

	return b.String(), params, nil
}

// attrsToProps converts an attribute map to the prefixed property map used by
// the restore queries, where overwriting is the point.
func attrsToProps(attrs map[string]string) map[string]any {
	props := make(map[string]any, len(attrs))
	for k, v := range attrs {
		props[attrPrefix+k] = v
	}
	return props
}
