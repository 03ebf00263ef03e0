// Package text pulls plain text out of serialized rich-text content for metrics and snippets.
package text

import (
	"encoding/json"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

type quillOp struct {
	Insert any `json:"insert"`
}

type quillDelta struct {
	Ops []quillOp `json:"ops"`
}

// Extract understands Quill deltas ({"ops":[...]}) and HTML; anything else is returned as is.
func Extract(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "{") {
		var delta quillDelta
		if err := json.Unmarshal([]byte(trimmed), &delta); err == nil {
			var sb strings.Builder
			for _, op := range delta.Ops {
				if s, ok := op.Insert.(string); ok {
					sb.WriteString(s)
				}
			}
			return sb.String()
		}
	}
	if strings.HasPrefix(trimmed, "<") {
		return extractHTML(trimmed)
	}
	return content
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true,
}

func extractHTML(content string) string {
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(content))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return strings.TrimRight(sb.String(), "\n")
			}
			return sb.String()
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br":
				sb.WriteByte('\n')
			}
		case html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if skip > 0 {
					skip--
				}
				continue
			}
			if blockTags[tag] {
				sb.WriteByte('\n')
			}
		}
	}
}

// Words counts whitespace separated words.
func Words(s string) int {
	return len(strings.FieldsFunc(s, unicode.IsSpace))
}

// Characters counts runes, whitespace included.
func Characters(s string) int {
	return utf8.RuneCountInString(s)
}

// Snippet returns a single-line preview of at most limit runes.
func Snippet(content string, limit int) string {
	res := strings.Join(strings.Fields(Extract(content)), " ")
	if utf8.RuneCountInString(res) <= limit {
		return res
	}
	runes := []rune(res)
	return string(runes[:limit]) + "..."
}
