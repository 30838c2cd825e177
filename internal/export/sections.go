package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Section is one block of the rendered report: either label/value pairs or a
// table built from a list of objects.
type Section struct {
	Heading string
	Pairs   []Pair
	Columns []string
	Rows    [][]string
}

type Pair struct {
	Label string
	Value string
}

// BuildSections turns report data into renderable sections. Top-level scalars
// become a summary, nested objects their own pair list, and arrays of objects
// tables whose columns are the union of the objects' keys.
func BuildSections(raw json.RawMessage) ([]Section, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	summary := Section{Heading: "Summary"}
	var sections []Section
	for _, key := range sortedKeys(data) {
		switch value := data[key].(type) {
		case map[string]any:
			section := Section{Heading: humanize(key)}
			for _, inner := range sortedKeys(value) {
				section.Pairs = append(section.Pairs, Pair{Label: humanize(inner), Value: formatValue(value[inner])})
			}
			sections = append(sections, section)
		case []any:
			sections = append(sections, tableSection(key, value))
		default:
			summary.Pairs = append(summary.Pairs, Pair{Label: humanize(key), Value: formatValue(value)})
		}
	}
	if len(summary.Pairs) > 0 {
		sections = append([]Section{summary}, sections...)
	}
	return sections, nil
}

func tableSection(key string, items []any) Section {
	section := Section{Heading: humanize(key)}
	columns := map[string]bool{}
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			for k := range obj {
				columns[k] = true
			}
		}
	}
	if len(columns) == 0 {
		for _, item := range items {
			section.Rows = append(section.Rows, []string{formatValue(item)})
		}
		section.Columns = []string{"Value"}
		return section
	}

	keys := sortedKeys(columns)
	for _, k := range keys {
		section.Columns = append(section.Columns, humanize(k))
	}
	for _, item := range items {
		obj, _ := item.(map[string]any)
		row := make([]string, len(keys))
		for i, k := range keys {
			row[i] = formatValue(obj[k])
		}
		section.Rows = append(section.Rows, row)
	}
	return section
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "-"
	case string:
		return v
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', 2, 64)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

func humanize(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
