package extract

import (
	"context"
	"strings"

	"go-doc-recognizer/internal/logger"

	"github.com/sirupsen/logrus"
)

// Result holds the text recovered from a parse response, possibly empty, and
// the detected language when the vendor reported one.
type Result struct {
	Text     string
	Language string
}

// FileFetcher retrieves an external result file referenced by a response body.
type FileFetcher interface {
	FetchText(ctx context.Context, fileURL string) (string, error)
}

// Extractor recovers best-effort text from an arbitrarily shaped parse
// response. It is deliberately a tolerant heuristic rather than a strict
// parser: an unexpected shape yields empty text, never an error.
type Extractor struct {
	fetcher FileFetcher
}

// NewExtractor creates an extractor. The fetcher resolves file-reference
// results and may be nil, in which case that shape is treated as a miss.
func NewExtractor(fetcher FileFetcher) *Extractor {
	return &Extractor{fetcher: fetcher}
}

// Extract runs the strategy table against the response body. The first
// matching strategy alone supplies the text; only when every strategy misses
// does the generic traversal collect qualifying string leaves from the whole
// body. Extraction is deterministic for a given body.
func (e *Extractor) Extract(ctx context.Context, body map[string]interface{}) Result {
	if body == nil {
		return Result{}
	}

	text, matched := "", false
	for _, s := range orderedStrategies {
		if t, ok := s.apply(ctx, e, body); ok {
			logger.WithFields(logrus.Fields{
				"strategy": s.name,
				"length":   len(t),
			}).Debug("Extraction strategy matched")
			text, matched = t, true
			break
		}
	}

	if !matched {
		text = e.collectGeneric(body)
	}

	return Result{Text: text, Language: e.detectLanguage(body)}
}

// collectGeneric merges the always-probed generic fields with a full
// traversal of the body, then keeps fragments that look like prose rather
// than field values: longer than 12 characters or containing whitespace.
func (e *Extractor) collectGeneric(body map[string]interface{}) string {
	set := newFragmentSet()

	for _, path := range genericFieldPaths {
		if s, ok := digString(body, path...); ok && !looksLikeBase64(s) {
			set.add(s)
		}
	}
	collectLeaves(body, "", set)

	kept := make([]string, 0, len(set.fragments))
	for _, fragment := range set.fragments {
		if len(fragment) > 12 || strings.ContainsAny(fragment, " \t\n") {
			kept = append(kept, fragment)
		}
	}
	return strings.Join(kept, "\n\n")
}

// detectLanguage returns the first non-empty language tag among the known
// paths, then any segment-level tag, else empty.
func (e *Extractor) detectLanguage(body map[string]interface{}) string {
	for _, path := range languagePaths {
		if lang, ok := digString(body, path...); ok {
			return lang
		}
	}

	if segments, ok := digSlice(body, "output", "segments"); ok {
		for _, raw := range segments {
			segment, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if lang, ok := firstStringField(segment, "language", "lang"); ok {
				return lang
			}
		}
	}
	return ""
}
