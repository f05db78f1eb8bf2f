package stream

import (
	"fmt"
	"strings"
	"testing"
)

const (
	batchA = `{"slides":[{"title":"A","content":"<div>x</div>"}]}`
	batchB = `{"slides":[{"title":"B","content":"<div>y</div>"}]}`
)

func titles(r Result) []string {
	out := make([]string, len(r.CompleteSlides))
	for i, s := range r.CompleteSlides {
		out[i] = s.Title
	}
	return out
}

func TestParseLive_EmptyBuffer(t *testing.T) {
	r := ParseLive("", false)
	if len(r.CompleteSlides) != 0 {
		t.Errorf("expected no slides, got %d", len(r.CompleteSlides))
	}
	if r.InProgressHTML != "" {
		t.Errorf("expected empty in-progress html, got %q", r.InProgressHTML)
	}
}

func TestParseLive_SingleBatch(t *testing.T) {
	r := ParseLive(batchA, true)
	if len(r.CompleteSlides) != 1 {
		t.Fatalf("expected 1 slide, got %d", len(r.CompleteSlides))
	}
	if r.CompleteSlides[0].Title != "A" {
		t.Errorf("expected title A, got %q", r.CompleteSlides[0].Title)
	}
	if r.CompleteSlides[0].Content != "<div>x</div>" {
		t.Errorf("expected content preserved, got %q", r.CompleteSlides[0].Content)
	}
	if r.InProgressHTML != "" {
		t.Errorf("expected empty in-progress html, got %q", r.InProgressHTML)
	}
}

func TestParseLive_ConcatenatedBatches(t *testing.T) {
	r := ParseLive(batchA+batchB, true)

	got := titles(r)
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("expected slides [A B] in order, got %v", got)
	}
	if r.InProgressHTML != "" {
		t.Errorf("expected empty in-progress html, got %q", r.InProgressHTML)
	}
}

func TestParseLive_ManyBatchesNoSeparators(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 5; i++ {
		sb.WriteString(fmt.Sprintf(`{"slides":[{"title":"T%d","content":"<div>s</div>"},{"title":"U%d","content":"<div>s</div>"}]}`, i, i))
	}

	r := ParseLive(sb.String(), true)
	if len(r.CompleteSlides) != 10 {
		t.Fatalf("expected 10 slides from 5 batches of 2, got %d", len(r.CompleteSlides))
	}
	if r.CompleteSlides[0].Title != "T0" || r.CompleteSlides[9].Title != "U4" {
		t.Errorf("slides out of order: first %q last %q", r.CompleteSlides[0].Title, r.CompleteSlides[9].Title)
	}
}

func TestParseLive_FenceMarkersStripped(t *testing.T) {
	buffers := []string{
		"```json\n" + batchA + "\n```",
		batchA[:10] + "```" + batchA[10:],
		"```json" + batchA + "```json" + batchB + "```",
	}

	for _, buf := range buffers {
		r := ParseLive(buf, true)
		if len(r.CompleteSlides) == 0 {
			t.Errorf("fence marker broke parsing of %q", buf)
		}
		if r.CompleteSlides[0].Title != "A" {
			t.Errorf("expected title A, got %q", r.CompleteSlides[0].Title)
		}
	}
}

func TestParseLive_ProseAroundBatches(t *testing.T) {
	r := ParseLive("Here is your batch:\n"+batchA+"\nLet me know if you need more.", true)
	if len(r.CompleteSlides) != 1 || r.CompleteSlides[0].Title != "A" {
		t.Errorf("expected slide A despite surrounding prose, got %v", titles(r))
	}
}

func TestParseLive_MalformedObjectSkipped(t *testing.T) {
	// A hallucinated fragment between two valid batches must not abort the scan.
	buf := batchA + `{"slides": [{"title": oops}]}` + batchB

	r := ParseLive(buf, true)
	got := titles(r)
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("expected [A B] with malformed object skipped, got %v", got)
	}
}

func TestParseLive_ObjectWithoutSlidesIgnored(t *testing.T) {
	buf := `{"commentary":"here you go"}` + batchA

	r := ParseLive(buf, true)
	if len(r.CompleteSlides) != 1 || r.CompleteSlides[0].Title != "A" {
		t.Errorf("expected only slide A, got %v", titles(r))
	}
}

func TestParseLive_EmptySlidesArray(t *testing.T) {
	r := ParseLive(`{"slides":[]}`+batchA, true)
	if len(r.CompleteSlides) != 1 {
		t.Errorf("expected 1 slide, got %d", len(r.CompleteSlides))
	}
}

func TestParseLive_BracesInsideContent(t *testing.T) {
	buf := `{"slides":[{"title":"Code","content":"<div>if (x) { y() }</div>"}]}`

	r := ParseLive(buf, true)
	if len(r.CompleteSlides) != 1 {
		t.Fatalf("expected 1 slide, got %d", len(r.CompleteSlides))
	}
	if r.CompleteSlides[0].Content != "<div>if (x) { y() }</div>" {
		t.Errorf("braces inside string mangled: %q", r.CompleteSlides[0].Content)
	}
}

func TestParseLive_EscapedQuoteInContent(t *testing.T) {
	buf := `{"slides":[{"title":"Q","content":"<div class=\"big\">quote</div>"}]}`

	r := ParseLive(buf, true)
	if len(r.CompleteSlides) != 1 {
		t.Fatalf("expected 1 slide, got %d", len(r.CompleteSlides))
	}
	if r.CompleteSlides[0].Content != `<div class="big">quote</div>` {
		t.Errorf("escaped quote split the field: %q", r.CompleteSlides[0].Content)
	}
}

func TestParseLive_TruncatedMidSlide(t *testing.T) {
	buf := batchA + `{"slides":[{"title":"B","content":"<div>partial`

	r := ParseLive(buf, false)
	if len(r.CompleteSlides) != 1 || r.CompleteSlides[0].Title != "A" {
		t.Fatalf("expected only closed slide A, got %v", titles(r))
	}
	if !strings.HasPrefix(r.InProgressHTML, "<div>partial") {
		t.Errorf("expected in-progress html starting with partial content, got %q", r.InProgressHTML)
	}
	if !strings.HasSuffix(r.InProgressHTML, "</div>") {
		t.Errorf("expected synthesized closing tag, got %q", r.InProgressHTML)
	}
}

func TestParseLive_StreamCompleteDiscardsPartial(t *testing.T) {
	buf := batchA + `{"slides":[{"title":"B","content":"<div>partial`

	r := ParseLive(buf, true)
	if len(r.CompleteSlides) != 1 {
		t.Errorf("expected only closed slide A, got %v", titles(r))
	}
	if r.InProgressHTML != "" {
		t.Errorf("complete stream must not surface a partial fragment, got %q", r.InProgressHTML)
	}
}

func TestParseLive_PartialBatchClosedSlides(t *testing.T) {
	// The open batch already closed two slide objects; both count, and the
	// third is the live one.
	buf := `{"slides":[` +
		`{"title":"One","content":"<div>1</div>"},` +
		`{"title":"Two","content":"<div>2</div>"},` +
		`{"title":"Three","content":"<div>3`

	r := ParseLive(buf, false)
	got := titles(r)
	if len(got) != 2 || got[0] != "One" || got[1] != "Two" {
		t.Fatalf("expected closed slides [One Two], got %v", got)
	}
	if !strings.HasPrefix(r.InProgressHTML, "<div>3") {
		t.Errorf("expected live preview of third slide, got %q", r.InProgressHTML)
	}
}

func TestParseLive_PartialSlideRequiresTitleAndContent(t *testing.T) {
	buf := `{"slides":[{"title":"NoContent","content":""},{"title":"Good","content":"<div>g</div>"},{"title":"Open","content":"<div>o`

	r := ParseLive(buf, false)
	got := titles(r)
	if len(got) != 1 || got[0] != "Good" {
		t.Errorf("expected only slide Good accepted, got %v", got)
	}
}

func TestParseLive_DedupByTitle(t *testing.T) {
	// The backend re-emitted slide A inside a trailing open batch. The
	// partial scanner must not count it twice.
	buf := batchA + `{"slides":[{"title":"A","content":"<div>x</div>"},{"title":"C","content":"<div>c`

	r := ParseLive(buf, false)
	got := titles(r)
	if len(got) != 1 || got[0] != "A" {
		t.Errorf("expected duplicate title skipped, got %v", got)
	}
	if !strings.HasPrefix(r.InProgressHTML, "<div>c") {
		t.Errorf("expected live preview of slide C, got %q", r.InProgressHTML)
	}
}

func TestParseLive_SalvagesSlidesFromMalformedBatch(t *testing.T) {
	// The trailing batch object is unparseable at the top level, but its
	// closed slide objects are individually valid and get picked up.
	buf := batchA + `{"slides":[{"title":"S1","content":"<div>1</div>"},{"title":"S2","content":"<div>2</div>"}`

	r := ParseLive(buf, false)
	got := titles(r)
	if len(got) != 3 || got[1] != "S1" || got[2] != "S2" {
		t.Errorf("expected salvaged slides [A S1 S2], got %v", got)
	}
}

func TestParseLive_NoStartTagNoPreview(t *testing.T) {
	buf := `{"slides":[{"title":"B","content":"<di`

	r := ParseLive(buf, false)
	if r.InProgressHTML != "" {
		t.Errorf("expected empty preview before a complete start tag, got %q", r.InProgressHTML)
	}
}

func TestParseLive_NoContentOpenerNoPreview(t *testing.T) {
	buf := `{"slides":[{"title":"B"`

	r := ParseLive(buf, false)
	if r.InProgressHTML != "" {
		t.Errorf("expected empty preview without a content field, got %q", r.InProgressHTML)
	}
}

func TestParseLive_UnescapesPartialContent(t *testing.T) {
	buf := `{"slides":[{"title":"B","content":"<div class=\"hero\">line1\nline2`

	r := ParseLive(buf, false)
	want := "<div class=\"hero\">line1\nline2</div>"
	if r.InProgressHTML != want {
		t.Errorf("expected %q, got %q", want, r.InProgressHTML)
	}
}

func TestParseLive_ClosingTagNotDuplicated(t *testing.T) {
	// Content string fully streamed but the slide object is still open; the
	// root closing tag is already present so none is synthesized.
	buf := `{"slides":[{"title":"B","content":"<div>done</div>`

	r := ParseLive(buf, false)
	if strings.Count(r.InProgressHTML, "</div>") != 1 {
		t.Errorf("expected single closing tag, got %q", r.InProgressHTML)
	}
}

func TestParseLive_NestedTagsGetRootClosure(t *testing.T) {
	buf := `{"slides":[{"title":"B","content":"<div><p>a</p>`

	r := ParseLive(buf, false)
	if r.InProgressHTML != "<div><p>a</p></div>" {
		t.Errorf("expected root div closed, got %q", r.InProgressHTML)
	}
}

func TestParseLive_Deterministic(t *testing.T) {
	buf := batchA + batchB + `{"slides":[{"title":"C","content":"<div>c`

	first := ParseLive(buf, false)
	second := ParseLive(buf, false)

	if len(first.CompleteSlides) != len(second.CompleteSlides) {
		t.Fatalf("slide counts differ: %d vs %d", len(first.CompleteSlides), len(second.CompleteSlides))
	}
	for i := range first.CompleteSlides {
		if first.CompleteSlides[i] != second.CompleteSlides[i] {
			t.Errorf("slide %d differs between calls", i)
		}
	}
	if first.InProgressHTML != second.InProgressHTML {
		t.Errorf("in-progress html differs: %q vs %q", first.InProgressHTML, second.InProgressHTML)
	}
}

func TestParseLive_SlideCountMonotonicOnGrowingBuffer(t *testing.T) {
	full := batchA + batchB + `{"slides":[{"title":"C","content":"<div>c</div>"}]}`

	prev := 0
	for i := 0; i <= len(full); i++ {
		r := ParseLive(full[:i], false)
		if len(r.CompleteSlides) < prev {
			t.Fatalf("slide count shrank from %d to %d at prefix %d", prev, len(r.CompleteSlides), i)
		}
		prev = len(r.CompleteSlides)
	}
	if prev != 3 {
		t.Errorf("expected 3 slides at full buffer, got %d", prev)
	}
}

func TestParseLive_FreshSliceEachCall(t *testing.T) {
	buf := batchA + batchB
	first := ParseLive(buf, true)
	first.CompleteSlides[0].Title = "mutated"

	second := ParseLive(buf, true)
	if second.CompleteSlides[0].Title != "A" {
		t.Error("caller mutation leaked into a later parse")
	}
}
