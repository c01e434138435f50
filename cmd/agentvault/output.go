package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

var (
	outputFormat string // "table", "json", "raw"
	outputField  string // for -field=key
)

// printResult outputs a single object in the chosen format.
func printResult(data map[string]any) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(data) //nolint:errcheck
	case "raw":
		if outputField != "" {
			if v, ok := data[outputField]; ok {
				fmt.Println(v)
			}
		} else {
			for k, v := range data {
				fmt.Printf("%s=%v\n", k, v)
			}
		}
	default: // table
		printTable(data)
	}
}

// printList outputs a slice of objects, one row block per object.
func printList(items []any) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(items) //nolint:errcheck
	case "raw":
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				if outputField != "" {
					if v, ok := m[outputField]; ok {
						fmt.Println(v)
					}
					continue
				}
			}
			fmt.Printf("%v\n", item)
		}
	default:
		for i, item := range items {
			if i > 0 {
				fmt.Println()
			}
			if m, ok := item.(map[string]any); ok {
				printTable(m)
			} else {
				fmt.Printf("%v\n", item)
			}
		}
		if len(items) == 0 {
			fmt.Println("(none)")
		}
	}
}

func printTable(data map[string]any) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(data) {
		v := data[k]
		switch val := v.(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s\t\n", strings.ToUpper(k))
			for _, kk := range sortedKeys(val) {
				fmt.Fprintf(w, "  %s\t%v\n", kk, val[kk])
			}
		case []any:
			// Workflow steps come back as a list of objects; render each
			// as "label  detail" instead of a flattened join.
			if allObjects(val) {
				fmt.Fprintf(w, "%s\t\n", strings.ToUpper(k))
				for _, item := range val {
					m := item.(map[string]any)
					fmt.Fprintf(w, "  %v\t%v\n", m["label"], m["detail"])
				}
			} else {
				fmt.Fprintf(w, "%s\t%s\n", k, joinAny(val))
			}
		default:
			fmt.Fprintf(w, "%s\t%v\n", k, v)
		}
	}
	w.Flush()
}

func allObjects(vals []any) bool {
	if len(vals) == 0 {
		return false
	}
	for _, v := range vals {
		if _, ok := v.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinAny(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, ", ")
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Println(msg)
}
