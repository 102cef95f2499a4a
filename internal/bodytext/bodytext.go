// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bodytext extracts plain body text from a provider MIME tree:
// text/plain parts are collected depth-first and cleaned of quoted reply
// chains; messages with only HTML bodies fall back to visible-text
// extraction.
package bodytext

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/bcem/importer/internal/models"
	"github.com/bcem/importer/internal/provider"
)

// Placeholder is persisted when nothing at all could be extracted. An
// email row always has a body.
const Placeholder = "[No message body]"

// replyLineRe matches the reply-chain marker line, e.g.
// "On Mon, Jan 1, 2024 at 10:00 AM Jane Doe <jane@x.com> wrote:".
// Everything from this line on is quoted content.
var replyLineRe = regexp.MustCompile(`^On (Mon|Tue|Wed|Thu|Fri|Sat|Sun)[a-z]*, [A-Z][a-z]+ \d{1,2}, \d{4} at .+wrote:\s*$`)

// Extract returns the plain body text for a message. It never fails: a
// message without extractable content yields the placeholder body.
func Extract(msg *models.RawMessage) string {
	var cleaned []string
	for _, raw := range collectPlain(msg.Payload) {
		if c := Clean(raw); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) > 0 {
		return strings.Join(cleaned, "\n\n")
	}

	// No text/plain anywhere — fall back to the top-level payload body.
	if raw := decodeBody(msg.Payload); raw != "" {
		if strings.EqualFold(msg.Payload.MimeType, "text/html") {
			raw = VisibleText(raw)
		}
		if c := Clean(raw); c != "" {
			return c
		}
	}

	return Placeholder
}

// collectPlain gathers decoded text/plain content depth-first, parts of
// parts included.
func collectPlain(p models.MessagePart) []string {
	var out []string
	if strings.EqualFold(p.MimeType, "text/plain") {
		if text := decodeBody(p); text != "" {
			out = append(out, text)
		}
	}
	for _, child := range p.Parts {
		out = append(out, collectPlain(child)...)
	}
	return out
}

// decodeBody decodes a part's base64url body data. Undecodable data is
// treated as absent.
func decodeBody(p models.MessagePart) string {
	if p.Body.Data == "" {
		return ""
	}
	data, err := provider.DecodeBase64URL(p.Body.Data)
	if err != nil {
		return ""
	}
	return string(data)
}

// Clean strips quoted reply content and collapses redundant whitespace.
// Once the reply-chain marker line is seen, that line and everything after
// it is discarded; lines quoting earlier messages (leading ">") are
// removed wherever they appear.
func Clean(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if replyLineRe.MatchString(trimmed) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}

	// Collapse runs of blank lines into one.
	var out []string
	blank := false
	for _, line := range kept {
		if strings.TrimSpace(line) == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

// VisibleText parses an HTML document and returns its visible text
// content. Script and style bodies are skipped; block boundaries become
// newlines.
func VisibleText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "head":
				return
			case "br", "p", "div", "tr", "li", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteString("\n")
			}
		case html.TextNode:
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	// Normalize intra-line whitespace without flattening line structure.
	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
	}
	return strings.Join(lines, "\n")
}
