package constants

import (
	"strings"
)

// Category is the fixed classification assigned to an extracted image.
type Category string

const (
	Screenshot   Category = "Screenshot"
	Diagram      Category = "Diagram"
	CodeSnippet  Category = "Code Snippet"
	Illustration Category = "Illustration"
	Table        Category = "Table"
	Other        Category = "Other"
)

var allCategories = []Category{
	Screenshot,
	Diagram,
	CodeSnippet,
	Illustration,
	Table,
	Other,
}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Canonicalize maps a free-form label coming back from a model onto the enum.
func Canonicalize(input string) (Category, bool) {
	if input == "" {
		return Other, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	// synonyms map
	synonyms := map[string]Category{
		"screen shot":  Screenshot,
		"screen":       Screenshot,
		"ui":           Screenshot,
		"flowchart":    Diagram,
		"chart":        Diagram,
		"graph":        Diagram,
		"architecture": Diagram,
		"code":         CodeSnippet,
		"codesnippet":  CodeSnippet,
		"code_snippet": CodeSnippet,
		"source code":  CodeSnippet,
		"photo":        Illustration,
		"picture":      Illustration,
		"drawing":      Illustration,
		"logo":         Illustration,
		"grid":         Table,
		"spreadsheet":  Table,
	}

	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	for _, cat := range allCategories {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}

	return Other, false
}
