package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const sampleDataNotice = "Collector unavailable: showing sample data."

// provenance returns the notice printed above anything derived from a
// synthesized batch, or "" for live data.
func provenance(fromPrimarySource bool) string {
	if fromPrimarySource {
		return ""
	}
	return sampleDataNotice
}

func printProvenance(fromPrimarySource bool) {
	if notice := provenance(fromPrimarySource); notice != "" {
		fmt.Println(notice)
	}
}

func money(f float64) string {
	return fmt.Sprintf("$%.2f", f)
}

// breakdown renders a category map as "a=1.00, b=2.00" in key order.
func breakdown(m map[string]float64) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.2f", k, m[k]))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
