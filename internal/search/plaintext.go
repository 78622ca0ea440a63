package search

import (
	"strings"

	"golang.org/x/net/html"
)

// PlainText converts an email's HTML body into normalized plain text
// for indexing and AI context. Script, style and noscript content is
// dropped, remaining text is whitespace-collapsed. Output is
// deterministic for a given input.
func PlainText(htmlBody string) string {
	if htmlBody == "" {
		return ""
	}

	tokenizer := html.NewTokenizer(strings.NewReader(htmlBody))
	var parts []string
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(parts, " ")

		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skippedTag(string(name)) {
				skipDepth++
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skippedTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(tokenizer.Text())), " ")
			if text != "" {
				parts = append(parts, text)
			}
		}
	}
}

func skippedTag(name string) bool {
	switch name {
	case "script", "style", "noscript", "head", "title":
		return true
	}
	return false
}
