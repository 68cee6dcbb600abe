package graph

import (
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ============================================================================
// Helper Functions
// ============================================================================

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getInt64FromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	if i, ok := val.(int64); ok {
		return i
	}
	if i, ok := val.(int); ok {
		return int64(i)
	}
	return 0
}

func getBoolFromRecord(record *neo4j.Record, key string) bool {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return false
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return false
}

func getStringSliceFromRecord(record *neo4j.Record, key string) []string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return []string{}
	}
	if slice, ok := val.([]interface{}); ok {
		result := make([]string, 0, len(slice))
		for _, v := range slice {
			if str, ok := v.(string); ok {
				result = append(result, str)
			}
		}
		return result
	}
	return []string{}
}

func getTimeFromRecord(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}
	}
	// Neo4j datetime values come back as time.Time
	if t, ok := val.(time.Time); ok {
		return t
	}
	return time.Time{}
}

// getAttrsFromRecord parses the [[key, value], ...] pair list produced by the
// attribute projection in the read queries, stripping the storage prefix.
func getAttrsFromRecord(record *neo4j.Record, key string) map[string]string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	pairs, ok := val.([]interface{})
	if !ok || len(pairs) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(pairs))
	for _, p := range pairs {
		pair, ok := p.([]interface{})
		if !ok || len(pair) != 2 {
			continue
		}
		k, kok := pair[0].(string)
		v, vok := pair[1].(string)
		if !kok || !vok {
			continue
		}
		attrs[strings.TrimPrefix(k, attrPrefix)] = v
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func entityFromRecord(record *neo4j.Record) Entity {
	return Entity{
		EntityKey: EntityKey{
			Name: getStringFromRecord(record, "name"),
			Type: getStringFromRecord(record, "type"),
		},
		Description: getStringFromRecord(record, "description"),
		Attributes:  getAttrsFromRecord(record, "attrs"),
		Provenance:  getStringSliceFromRecord(record, "provenance"),
	}
}

func relationshipFromRecord(record *neo4j.Record) Relationship {
	return Relationship{
		RelationshipKey: RelationshipKey{
			Source: EntityKey{
				Name: getStringFromRecord(record, "src_name"),
				Type: getStringFromRecord(record, "src_type"),
			},
			Target: EntityKey{
				Name: getStringFromRecord(record, "dst_name"),
				Type: getStringFromRecord(record, "dst_type"),
			},
			Type: getStringFromRecord(record, "rel_type"),
		},
		Description: getStringFromRecord(record, "description"),
		Attributes:  getAttrsFromRecord(record, "attrs"),
		Provenance:  getStringSliceFromRecord(record, "provenance"),
	}
}
