package mediacache

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Identifier schemes used as item keys.
const (
	SchemeTMDB = "tmdb"
	SchemeTVDB = "tvdb"
)

// ItemKey is the result of looking up a record's identifier. Found is false
// when any segment of the path is missing or has the wrong shape.
type ItemKey struct {
	Value  string
	Scheme string
	Found  bool
}

// IDGroup returns the record field holding the identifiers for mediaType,
// which is the media type without its plural suffix.
func IDGroup(mediaType string) string {
	return strings.TrimRight(normalizeSegment(mediaType), "s")
}

// IDScheme returns the identifier scheme used for mediaType.
func IDScheme(mediaType string) string {
	if normalizeSegment(mediaType) == "shows" {
		return SchemeTVDB
	}
	return SchemeTMDB
}

// ExtractItemKey reads record[IDGroup]["ids"][IDScheme] and returns it in
// canonical string form.
func ExtractItemKey(record Record, mediaType string) ItemKey {
	key := ItemKey{Scheme: IDScheme(mediaType)}
	group, ok := asMap(record[IDGroup(mediaType)])
	if !ok {
		return key
	}
	ids, ok := asMap(group["ids"])
	if !ok {
		return key
	}
	key.Value, key.Found = canonicalKey(ids[key.Scheme])
	return key
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, m != nil
	case Record:
		return m, m != nil
	default:
		return nil, false
	}
}

// canonicalKey formats an identifier value. Zero, empty, fractional and
// non-scalar values are not identifiers.
func canonicalKey(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	case float64:
		if id == 0 || math.IsNaN(id) || math.IsInf(id, 0) || id != math.Trunc(id) {
			return "", false
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), id != 0
	case int64:
		return strconv.FormatInt(id, 10), id != 0
	case int32:
		return strconv.FormatInt(int64(id), 10), id != 0
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return strconv.FormatInt(n, 10), n != 0
		}
		if f, err := id.Float64(); err == nil {
			return canonicalKey(f)
		}
		return "", false
	default:
		return "", false
	}
}
