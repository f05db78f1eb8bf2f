package generate

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/orator/internal/deck"
)

// genImageScheme marks a generative-image placeholder emitted by the model.
// The description rides in the path, percent-encoded.
const genImageScheme = "genimg://"

const chartBaseURL = "https://quickchart.io/chart"

var (
	chartTag        = regexp.MustCompile(`<quickchart\b([^>]*)>`)
	chartCloseTag   = regexp.MustCompile(`</quickchart\s*>`)
	chartConfigAttr = regexp.MustCompile(`\s*config\s*=\s*(?:'([^']*)'|"([^"]*)")`)
)

// Transforms holds the settings for the final content rewrites applied once
// a run reaches Done.
type Transforms struct {
	ImageEndpoint string
	ImageKey      string
}

// Apply runs both rewrites over every slide, in fixed order. Both are pure
// string rewrites and idempotent, so re-rendering partially transformed
// content is safe.
func (t Transforms) Apply(slides []deck.Slide) []deck.Slide {
	out := make([]deck.Slide, len(slides))
	for i, s := range slides {
		s.Content = RewriteImageURLs(s.Content, t.ImageEndpoint, t.ImageKey)
		s.Content = RewriteChartTags(s.Content)
		out[i] = s
	}
	return out
}

// RewriteImageURLs replaces every generative-image placeholder with a
// fully-qualified provider URL carrying the access key. The description is
// percent-decoded and re-encoded so hand-written and model-written
// placeholders land on the same final URL. Rewritten URLs no longer carry
// the scheme, which makes a second pass a no-op.
func RewriteImageURLs(content, endpoint, key string) string {
	if endpoint == "" {
		return content
	}

	var sb strings.Builder
	for {
		idx := strings.Index(content, genImageScheme)
		if idx < 0 {
			sb.WriteString(content)
			return sb.String()
		}

		sb.WriteString(content[:idx])
		rest := content[idx+len(genImageScheme):]

		end := strings.IndexAny(rest, `"'<> `)
		if end < 0 {
			end = len(rest)
		}
		desc := rest[:end]
		if decoded, err := url.PathUnescape(desc); err == nil {
			desc = decoded
		}

		sb.WriteString(endpoint)
		sb.WriteString("?description=")
		sb.WriteString(url.QueryEscape(desc))
		if key != "" {
			sb.WriteString("&key=")
			sb.WriteString(url.QueryEscape(key))
		}

		content = rest[end:]
	}
}

// RewriteChartTags converts chart markup into plain image tags whose source
// carries the chart config as a query parameter. Attributes other than
// config are preserved verbatim. The tag itself disappears in the rewrite,
// so a second pass is a no-op.
func RewriteChartTags(content string) string {
	content = chartTag.ReplaceAllStringFunc(content, func(tag string) string {
		attrs := chartTag.FindStringSubmatch(tag)[1]

		m := chartConfigAttr.FindStringSubmatchIndex(attrs)
		if m == nil {
			return tag
		}
		config := ""
		if m[2] >= 0 {
			config = attrs[m[2]:m[3]]
		} else if m[4] >= 0 {
			config = attrs[m[4]:m[5]]
		}
		rest := strings.TrimSpace(attrs[:m[0]] + attrs[m[1]:])

		src := chartBaseURL + "?c=" + url.QueryEscape(config)
		if rest != "" {
			return `<img src="` + src + `" ` + rest + `>`
		}
		return `<img src="` + src + `">`
	})
	return chartCloseTag.ReplaceAllString(content, "")
}
