package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/doc-digitizer/constants"
)

// ParseImageAnalysis recovers an ImageAnalysis from model output that may be
// wrapped in code fences or prose, canonicalizes the category and validates
// the result against the image schema.
func ParseImageAnalysis(raw string) (ImageAnalysis, error) {
	body := stripCodeFences(raw)
	if !json.Valid([]byte(body)) {
		body = findFirstJSON(body)
		if body == "" {
			return ImageAnalysis{}, fmt.Errorf("no json object in response")
		}
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return ImageAnalysis{}, fmt.Errorf("decode response: %w", err)
	}
	normalizeAnalysis(m)

	doc, err := json.Marshal(m)
	if err != nil {
		return ImageAnalysis{}, err
	}
	if err := validate(imageAnalysisSchema, doc); err != nil {
		return ImageAnalysis{}, err
	}

	var out ImageAnalysis
	if err := json.Unmarshal(doc, &out); err != nil {
		return ImageAnalysis{}, fmt.Errorf("unmarshal analysis: %w", err)
	}
	return out, nil
}

// normalizeAnalysis fixes the usual model slips before validation: category
// synonyms and casing, padded descriptions, entities sent as one string.
func normalizeAnalysis(m map[string]any) {
	if v, ok := m["category"].(string); ok {
		if c, ok := constants.Canonicalize(v); ok {
			m["category"] = string(c)
		}
	}
	if v, ok := m["description"].(string); ok {
		m["description"] = strings.TrimSpace(v)
	}
	switch v := m["entities"].(type) {
	case nil:
		delete(m, "entities")
	case string:
		var list []any
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				list = append(list, p)
			}
		}
		m["entities"] = list
	case []any:
		list := v[:0]
		for _, e := range v {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				list = append(list, strings.TrimSpace(s))
			}
		}
		m["entities"] = list
	}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.Index(s, "\n"); nl != -1 {
			s = s[nl+1:]
		}
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

// findFirstJSON returns the first balanced {...} object, ignoring braces
// inside string literals.
func findFirstJSON(s string) string {
	start, depth := -1, 0
	inStr, esc := false, false
	for i, r := range s {
		if inStr {
			switch {
			case esc:
				esc = false
			case r == '\\':
				esc = true
			case r == '"':
				inStr = false
			}
			continue
		}
		switch r {
		case '"':
			if start != -1 {
				inStr = true
			}
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start != -1 {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// StripFences removes a surrounding ```markdown fence some models add to
// text completions.
func StripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return s
	}
	return stripCodeFences(t)
}
