// Copyright 2024-2026 Aiku AI

// Package tumblrfmt converts between Tumblr's range-based text formatting
// and Matrix HTML. Tumblr text messages carry a plain string plus a list of
// formatting ranges with offsets into that string.
package tumblrfmt

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-tumblr/pkg/tumblr"
)

// ParsedMessage holds the result of converting Tumblr text to Matrix format.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
}

// ToMatrix renders Tumblr text content as Matrix HTML. Overlapping ranges
// are handled by splitting the text at every range boundary and wrapping
// each segment in the tags active over it, so the output never has
// improperly nested tags.
func ToMatrix(content *tumblr.TextContent) *ParsedMessage {
	if content == nil {
		return &ParsedMessage{}
	}
	if len(content.Formatting) == 0 {
		return &ParsedMessage{Body: content.Text}
	}

	runes := []rune(content.Text)
	ranges := clampRanges(content.Formatting, len(runes))
	if len(ranges) == 0 {
		return &ParsedMessage{Body: content.Text}
	}

	points := boundaryPoints(ranges, len(runes))
	var sb strings.Builder
	for i := 0; i < len(points)-1; i++ {
		start, end := points[i], points[i+1]
		if start >= end {
			continue
		}
		segment := html.EscapeString(string(runes[start:end]))
		segment = strings.ReplaceAll(segment, "\n", "<br/>")
		open, closing := segmentTags(ranges, start, end)
		sb.WriteString(open)
		sb.WriteString(segment)
		sb.WriteString(closing)
	}

	return &ParsedMessage{
		Body:          content.Text,
		Format:        event.FormatHTML,
		FormattedBody: sb.String(),
	}
}

func clampRanges(formatting []tumblr.FormattingRange, length int) []tumblr.FormattingRange {
	ranges := make([]tumblr.FormattingRange, 0, len(formatting))
	for _, f := range formatting {
		if f.Start < 0 {
			f.Start = 0
		}
		if f.End > length {
			f.End = length
		}
		if f.Start >= f.End {
			continue
		}
		ranges = append(ranges, f)
	}
	return ranges
}

func boundaryPoints(ranges []tumblr.FormattingRange, length int) []int {
	seen := map[int]bool{0: true, length: true}
	for _, f := range ranges {
		seen[f.Start] = true
		seen[f.End] = true
	}
	points := make([]int, 0, len(seen))
	for p := range seen {
		points = append(points, p)
	}
	sort.Ints(points)
	return points
}

// segmentTags returns the opening and closing HTML for all ranges covering
// the segment [start, end).
func segmentTags(ranges []tumblr.FormattingRange, start, end int) (string, string) {
	var open, closing strings.Builder
	for _, f := range ranges {
		if f.Start > start || f.End < end {
			continue
		}
		switch f.Type {
		case "bold":
			open.WriteString("<strong>")
			closing.WriteString("</strong>")
		case "italic":
			open.WriteString("<em>")
			closing.WriteString("</em>")
		case "strikethrough":
			open.WriteString("<del>")
			closing.WriteString("</del>")
		case "small":
			open.WriteString("<small>")
			closing.WriteString("</small>")
		case "link":
			if f.URL != "" {
				open.WriteString(fmt.Sprintf(`<a href="%s">`, html.EscapeString(f.URL)))
				closing.WriteString("</a>")
			}
		case "mention":
			if f.URL != "" {
				open.WriteString(fmt.Sprintf(`<a href="%s">`, html.EscapeString(f.URL)))
				closing.WriteString("</a>")
			}
		}
	}
	// Closing tags must come out in reverse order of the opening ones.
	return open.String(), reverseTags(closing.String())
}

var closeTagRe = regexp.MustCompile(`</[a-z]+>`)

func reverseTags(tags string) string {
	parts := closeTagRe.FindAllString(tags, -1)
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "")
}

var (
	linkRe = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe   = regexp.MustCompile(`<br\s*/?>`)
	tagRe  = regexp.MustCompile(`<[^>]+>`)
)

// Parse extracts the plain text Tumblr accepts from Matrix message content.
// Tumblr text messages have no client-controlled formatting, so HTML is
// flattened: links keep their target when it differs from the anchor text,
// everything else loses its markup.
func Parse(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return content.Body
	}

	text := content.FormattedBody
	text = brRe.ReplaceAllString(text, "\n")
	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		href, label := parts[1], parts[2]
		if href == label || strings.HasPrefix(href, "https://matrix.to/") {
			return label
		}
		return fmt.Sprintf("%s (%s)", label, href)
	})
	text = tagRe.ReplaceAllString(text, "")
	return html.UnescapeString(text)
}
