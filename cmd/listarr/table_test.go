package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderTablePlainWithFooter(t *testing.T) {
	var buf bytes.Buffer
	out := renderTable(&buf, []column{
		{title: "Partition"},
		{title: "Entries", numeric: true},
	}, [][]string{
		{"movies_popular", "12"},
		{"shows_trending"},
	}, []string{"Total", "12"})

	if strings.ContainsAny(out, "╭╰│") {
		t.Fatalf("expected ASCII borders for non-terminal writer:\n%s", out)
	}
	for _, want := range []string{"PARTITION", "movies_popular", "shows_trending", "TOTAL"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
	if renderTable(&buf, nil, nil, nil) != "" {
		t.Fatal("expected empty output without columns")
	}
}
