package extract

import (
	"context"
	"sort"
	"strings"
)

// strategy is one known response shape: a pure probe that either recovers the
// document text from the body or reports a miss. Strategies run in priority
// order with explicit short-circuiting; the generic traversal runs only when
// every strategy misses.
type strategy struct {
	name  string
	apply func(ctx context.Context, e *Extractor, body map[string]interface{}) (string, bool)
}

// orderedStrategies is the declarative path table for the vendor's observed
// response shapes, most specific first. The schema is not contractually
// stable across document types, so new shapes are added here rather than in
// the extraction flow.
var orderedStrategies = []strategy{
	{
		// A single dominant page-text field; when present it alone is the text.
		name: "output_text_result",
		apply: func(_ context.Context, _ *Extractor, body map[string]interface{}) (string, bool) {
			return digString(body, "output", "text_result")
		},
	},
	{
		// Per-segment chunks, concatenated in array order.
		name: "output_segments",
		apply: func(_ context.Context, _ *Extractor, body map[string]interface{}) (string, bool) {
			segments, ok := digSlice(body, "output", "segments")
			if !ok {
				return "", false
			}
			parts := make([]string, 0, len(segments))
			for _, raw := range segments {
				segment, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				if text, ok := firstStringField(segment, "text", "content"); ok {
					parts = append(parts, text)
				} else {
					parts = append(parts, "")
				}
			}
			if len(parts) == 0 {
				return "", false
			}
			return strings.Join(parts, "\n"), true
		},
	},
	{
		// The result lives in an external file; fetching it is the only side
		// effect in this component. A fetch failure counts as a miss.
		name: "output_file_url",
		apply: func(ctx context.Context, e *Extractor, body map[string]interface{}) (string, bool) {
			fileURL, ok := digString(body, "output", "file_url")
			if !ok || e.fetcher == nil {
				return "", false
			}
			text, err := e.fetcher.FetchText(ctx, fileURL)
			if err != nil {
				return "", false
			}
			return text, true
		},
	},
	{
		// Single-field fallbacks, in decreasing specificity.
		name: "single_field_fallbacks",
		apply: func(_ context.Context, _ *Extractor, body map[string]interface{}) (string, bool) {
			paths := [][]string{
				{"output", "text"},
				{"output", "content"},
				{"output", "markdown"},
				{"result", "text"},
				{"text"},
			}
			for _, path := range paths {
				if text, ok := digString(body, path...); ok {
					return text, true
				}
			}
			return "", false
		},
	},
}

// genericFieldPaths are probed whenever the strategies all miss, ahead of the
// full traversal, so common generic fields lead the collected order.
var genericFieldPaths = [][]string{
	{"markdown"},
	{"text"},
	{"output"},
	{"output", "markdown"},
	{"output", "text"},
	{"result", "markdown"},
}

// languagePaths are the known locations of a detected-language tag, in
// priority order.
var languagePaths = [][]string{
	{"output", "language"},
	{"output", "detected_language"},
	{"result", "language"},
	{"language"},
}

// binaryKeyHints mark keys that conventionally hold binary or image payloads;
// string leaves under them are never surfaced as text.
var binaryKeyHints = []string{"image", "thumbnail", "preview", "file", "base64", "blob"}

// maxLeafLen is the sanity ceiling for a single string leaf.
const maxLeafLen = 20000

func isBinaryKey(key string) bool {
	lower := strings.ToLower(key)
	for _, hint := range binaryKeyHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// looksLikeBase64 flags long runs of base64 alphabet characters with no
// whitespace, the signature of an embedded binary blob.
func looksLikeBase64(s string) bool {
	if len(s) < 64 {
		return false
	}
	if strings.HasPrefix(s, "data:") {
		return true
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '+' || r == '/' || r == '=' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// collectLeaves walks the whole value and appends every qualifying string
// leaf to the collector. Map keys are visited in sorted order so the walk is
// deterministic.
func collectLeaves(value interface{}, parentKey string, c *fragmentSet) {
	switch v := value.(type) {
	case string:
		if isBinaryKey(parentKey) {
			return
		}
		if len(v) >= maxLeafLen || looksLikeBase64(v) {
			return
		}
		c.add(v)
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if isBinaryKey(key) {
				continue
			}
			collectLeaves(v[key], key, c)
		}
	case []interface{}:
		for _, item := range v {
			collectLeaves(item, parentKey, c)
		}
	}
}

// fragmentSet is an order-preserving, deduplicated fragment collector.
type fragmentSet struct {
	seen      map[string]struct{}
	fragments []string
}

func newFragmentSet() *fragmentSet {
	return &fragmentSet{seen: map[string]struct{}{}}
}

func (c *fragmentSet) add(fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}
	if _, dup := c.seen[fragment]; dup {
		return
	}
	c.seen[fragment] = struct{}{}
	c.fragments = append(c.fragments, fragment)
}

// digString resolves a path of map keys to a non-empty string value.
func digString(body map[string]interface{}, path ...string) (string, bool) {
	value, ok := dig(body, path...)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// digSlice resolves a path of map keys to a non-empty array value.
func digSlice(body map[string]interface{}, path ...string) ([]interface{}, bool) {
	value, ok := dig(body, path...)
	if !ok {
		return nil, false
	}
	s, ok := value.([]interface{})
	if !ok || len(s) == 0 {
		return nil, false
	}
	return s, true
}

func dig(body map[string]interface{}, path ...string) (interface{}, bool) {
	var current interface{} = body
	for _, key := range path {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func firstStringField(m map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
