package stream

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/orator/internal/deck"
)

// Result is the parser's sole output: the fully reconstructed ordered slide
// list plus a best-effort HTML fragment for the slide still being streamed.
// CompleteSlides is rebuilt from scratch on every call, never a diff.
type Result struct {
	CompleteSlides []deck.Slide `json:"complete_slides"`
	InProgressHTML string       `json:"in_progress_html"`
}

var (
	slidesOpener  = regexp.MustCompile(`"slides"\s*:\s*\[`)
	contentOpener = regexp.MustCompile(`"content"\s*:\s*"`)
	startTag      = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9-]*)(\s[^>]*)?>`)
)

// htmlUnescaper unwinds the JSON string escapes a model emits inside a
// content field. The fragment is not complete JSON, so a full
// json.Unmarshal would fail; only the literal sequences are rewritten.
var htmlUnescaper = strings.NewReplacer(`\"`, `"`, `\n`, "\n", `\\`, `\`)

// ParseLive re-scans the entire accumulated generation buffer and returns
// every slide whose enclosing object has fully closed, plus the in-progress
// content of the slide currently streaming. Pure: same buffer, same result.
// Callers invoke it after every chunk with the whole buffer, not a delta.
func ParseLive(buffer string, streamComplete bool) Result {
	sanitized := sanitize(buffer)

	slides, tailStart := scanBatches(sanitized)

	tail := sanitized[tailStart:]
	slides, activeStart := scanPartialSlides(tail, slides)

	res := Result{CompleteSlides: slides}
	if !streamComplete {
		res.InProgressHTML = extractInProgress(tail[activeStart:])
	}
	return res
}

// sanitize strips fenced-code markers wherever they appear. Models wrap
// payloads in fences and occasionally re-open one mid-stream.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	return strings.ReplaceAll(s, "```", "")
}

// scanBatches walks the buffer for balanced top-level objects and collects
// the slides of every object that strict-parses with a slides array.
// Malformed candidates are skipped without stopping the scan. Returns the
// collected slides and the offset just past the last consumed batch.
func scanBatches(s string) ([]deck.Slide, int) {
	var slides []deck.Slide
	tailStart := 0

	depth := 0
	inString := false
	escaped := false
	objStart := -1

	for i := 0; i < len(s); i++ {
		c := s[i]

		if depth == 0 {
			// Between objects anything goes: prose, commas, stray fences.
			if c == '{' {
				depth = 1
				inString = false
				escaped = false
				objStart = i
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					if batch, ok := parseBatch(s[objStart : i+1]); ok {
						slides = append(slides, batch...)
						tailStart = i + 1
					}
					objStart = -1
				}
			}
		}
	}

	return slides, tailStart
}

// parseBatch strict-parses a candidate object and returns its slides.
// ok is false for anything that is not valid JSON carrying a slides array.
func parseBatch(candidate string) ([]deck.Slide, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &fields); err != nil {
		return nil, false
	}
	raw, ok := fields["slides"]
	if !ok || !strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		return nil, false
	}
	var slides []deck.Slide
	if err := json.Unmarshal(raw, &slides); err != nil {
		return nil, false
	}
	return slides, true
}

// scanPartialSlides inspects the unconsumed tail for a slides array that is
// still open and accepts every fully closed slide object inside it. A slide
// needs a title and non-empty content, and a title already collected is
// skipped so the overlap with the batch scan cannot double-count. Returns
// the grown slide list and the tail offset where the open slide begins.
func scanPartialSlides(tail string, slides []deck.Slide) ([]deck.Slide, int) {
	loc := slidesOpener.FindStringIndex(tail)
	if loc == nil {
		return slides, len(tail)
	}

	activeStart := loc[1]

	depth := 0
	inString := false
	escaped := false
	objStart := -1

scan:
	for i := loc[1]; i < len(tail); i++ {
		c := tail[i]

		if depth == 0 {
			switch c {
			case '{':
				depth = 1
				inString = false
				escaped = false
				objStart = i
			case ']':
				// The array closed with no slide left open.
				break scan
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					if slide, ok := parseSlide(tail[objStart : i+1]); ok && !hasTitle(slides, slide.Title) {
						slides = append(slides, slide)
					}
					// Closed objects are never the active slide, even
					// rejected ones.
					activeStart = i + 1
					objStart = -1
				}
			}
		}
	}

	return slides, activeStart
}

// parseSlide strict-parses one slide object. A slide without a title or
// with empty content is rejected.
func parseSlide(candidate string) (deck.Slide, bool) {
	var s deck.Slide
	if err := json.Unmarshal([]byte(candidate), &s); err != nil {
		return deck.Slide{}, false
	}
	if s.Title == "" || s.Content == "" {
		return deck.Slide{}, false
	}
	return s, true
}

func hasTitle(slides []deck.Slide, title string) bool {
	for _, s := range slides {
		if s.Title == title {
			return true
		}
	}
	return false
}

// extractInProgress pulls the content field of the slide still being
// streamed and makes it renderable: literal escapes are unwound and the
// root element is closed when its closing tag has not arrived yet. Returns
// empty until at least one complete start tag has been observed.
func extractInProgress(active string) string {
	loc := contentOpener.FindStringIndex(active)
	if loc == nil {
		return ""
	}

	fragment := htmlUnescaper.Replace(active[loc[1]:])

	m := startTag.FindStringSubmatch(fragment)
	if m == nil {
		return ""
	}

	closing := "</" + m[1] + ">"
	if !strings.HasSuffix(strings.TrimSpace(fragment), closing) {
		fragment += closing
	}
	return fragment
}
