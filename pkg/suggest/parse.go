package suggest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

type rawSuggestion struct {
	ID          any             `json:"id"`
	Title       any             `json:"title"`
	Description any             `json:"description"`
	Tags        json.RawMessage `json:"tags"`
}

var tagSeparators = regexp.MustCompile(`[\n,]`)

// Parse decodes a {"results": [...]} envelope, or a bare array, into suggestions.
// Entries without an id or title are dropped. Tags may be an array or a comma or
// newline separated string, and are capped at MaxTags.
func Parse(bs []byte) ([]Suggestion, error) {
	var list []json.RawMessage
	var env struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(bs, &env); err == nil && env.Results != nil {
		list = env.Results
	} else if err := json.Unmarshal(bs, &list); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}

	var out []Suggestion
	for _, item := range list {
		var r rawSuggestion
		if err := json.Unmarshal(item, &r); err != nil {
			continue
		}
		sg := Suggestion{
			ID:          str(r.ID),
			Title:       str(r.Title),
			Description: str(r.Description),
			Tags:        tags(r.Tags),
		}
		if sg.ID == "" || sg.Title == "" {
			continue
		}
		out = append(out, sg)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable title, description or tags in response", ErrUpstream)
	}
	return out, nil
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func tags(raw json.RawMessage) []string {
	var in []string
	var list []any
	var s string
	switch {
	case json.Unmarshal(raw, &list) == nil:
		for _, v := range list {
			in = append(in, str(v))
		}
	case json.Unmarshal(raw, &s) == nil:
		in = tagSeparators.Split(s, -1)
	}

	out := []string{}
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
		if len(out) == MaxTags {
			break
		}
	}
	return out
}
