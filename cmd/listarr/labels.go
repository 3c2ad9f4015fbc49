package main

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"listarr/internal/mediacache"
)

var titleCaser = cases.Title(language.English)

// partitionLabel renders "movies_popular" as "Movies / Popular".
func partitionLabel(name string) string {
	mediaType, listType, ok := mediacache.SplitPartitionName(name)
	if !ok {
		return name
	}
	return titleCaser.String(mediaType) + " / " + titleCaser.String(listType)
}

// recordSummary extracts the display fields of a cached record.
func recordSummary(record mediacache.Record, mediaType string) (key, title, year, expires string) {
	if k := mediacache.ExtractItemKey(record, mediaType); k.Found {
		key = k.Value
	} else {
		key = "-"
	}
	if group, ok := record[mediacache.IDGroup(mediaType)].(map[string]any); ok {
		if t, ok := group["title"].(string); ok {
			title = strings.TrimSpace(t)
		}
		switch y := group["year"].(type) {
		case float64:
			year = fmt.Sprintf("%.0f", y)
		case string:
			year = y
		}
	}
	if title == "" {
		title = "-"
	}
	if year == "" {
		year = "-"
	}
	expires, _ = record[mediacache.FieldExpires].(string)
	if expires == "" {
		expires = "-"
	}
	return key, title, year, expires
}
