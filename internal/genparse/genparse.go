// Package genparse extracts the structured sections of model-generated
// article text. The generator prompts for HEADLINE/LEAD/BODY/TAGS markers,
// but model output is not trusted to contain them.
package genparse

import "strings"

// Generated holds the sections recovered from raw model output. When no
// markers are present, Content carries the raw text and Tags stays empty.
type Generated struct {
	Headline string
	Lead     string
	Body     string
	Tags     []string
	Content  string
}

var markers = []string{"HEADLINE:", "LEAD:", "BODY:", "TAGS:"}

// Parse splits raw generated text on the section markers. Markers are
// matched case-insensitively at line starts; sections may span multiple
// lines and appear in any order. Malformed input degrades to Content=raw.
func Parse(raw string) Generated {
	out := Generated{Content: strings.TrimSpace(raw)}
	if out.Content == "" {
		return out
	}

	sections := map[string]*strings.Builder{}
	current := ""

	for _, line := range strings.Split(raw, "\n") {
		if marker, rest, ok := matchMarker(line); ok {
			current = marker
			if sections[current] == nil {
				sections[current] = &strings.Builder{}
			}
			if rest != "" {
				sections[current].WriteString(rest)
			}
			continue
		}
		if current == "" {
			continue
		}
		if sections[current].Len() > 0 {
			sections[current].WriteString("\n")
		}
		sections[current].WriteString(line)
	}

	if len(sections) == 0 {
		return out
	}

	out.Headline = sectionText(sections, "HEADLINE:")
	out.Lead = sectionText(sections, "LEAD:")
	out.Body = sectionText(sections, "BODY:")
	out.Tags = splitTags(sectionText(sections, "TAGS:"))
	return out
}

func matchMarker(line string) (marker, rest string, ok bool) {
	trimmed := strings.TrimSpace(line)
	upper := strings.ToUpper(trimmed)
	for _, m := range markers {
		if strings.HasPrefix(upper, m) {
			return m, strings.TrimSpace(trimmed[len(m):]), true
		}
	}
	return "", "", false
}

func sectionText(sections map[string]*strings.Builder, marker string) string {
	b, ok := sections[marker]
	if !ok {
		return ""
	}
	return strings.TrimSpace(b.String())
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, part := range strings.Split(raw, ",") {
		tag := strings.TrimSpace(part)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
