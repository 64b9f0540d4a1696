package markup

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"notekit/internal/resource"
	storagefs "notekit/internal/storage/fs"
)

type Language string

const (
	Markdown Language = "markdown"
	HTML     Language = "html"
)

func ParseLanguage(raw string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "md", "markdown":
		return Markdown, nil
	case "html":
		return HTML, nil
	}
	return "", fmt.Errorf("unknown markup language %q", raw)
}

var resourceRefRe = regexp.MustCompile(`:/([a-fA-F0-9]{32})\b`)

// ResourceURL is the in-note reference to a resource id.
func ResourceURL(id string) string {
	return ":/" + id
}

// LinkedResourceIDs returns the distinct resource ids referenced by body in
// order of first appearance.
func LinkedResourceIDs(body string) []string {
	if body == "" {
		return nil
	}
	seen := map[string]struct{}{}
	var ids []string
	for _, m := range resourceRefRe.FindAllStringSubmatch(body, -1) {
		id := strings.ToLower(m[1])
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// ResourceSnippet renders the reference inserted into a note for r.
func ResourceSnippet(lang Language, r resource.Resource) string {
	title := r.Title
	if title == "" {
		title = r.ID
	}
	url := ResourceURL(r.ID)
	if lang == HTML {
		if r.IsImage() {
			return fmt.Sprintf(`<img src="%s" alt="%s"/>`, url, html.EscapeString(title))
		}
		return fmt.Sprintf(`<a href="%s">%s</a>`, url, html.EscapeString(title))
	}
	if r.IsImage() {
		return "![" + escapeLinkText(title) + "](" + url + ")"
	}
	return "[" + escapeLinkText(title) + "](" + url + ")"
}

// FileURLSnippet links to a file on disk without copying it into the store.
func FileURLSnippet(lang Language, path string) string {
	name := storagefs.SanitizeFileName(path)
	if name == "" {
		name = path
	}
	url := storagefs.PathToFileURI(path)
	if lang == HTML {
		return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(name))
	}
	return "[" + escapeLinkText(name) + "](" + url + ")"
}

func escapeLinkText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}

// InsertAt places snippet into body at byte offset pos, separated from its
// neighbours by a blank line. It returns the new body and the offset just
// past the inserted snippet.
func InsertAt(body string, pos int, snippet string) (string, int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(body) {
		pos = len(body)
	}
	for pos > 0 && pos < len(body) && !utf8.RuneStart(body[pos]) {
		pos--
	}
	before, after := body[:pos], body[pos:]
	var b strings.Builder
	b.WriteString(before)
	if before != "" {
		b.WriteString(blankLinePad(before, strings.HasSuffix))
	}
	b.WriteString(snippet)
	end := b.Len()
	if after != "" {
		b.WriteString(blankLinePad(after, strings.HasPrefix))
	}
	b.WriteString(after)
	return b.String(), end
}

// blankLinePad returns the newlines needed so that s meets the snippet at a
// blank line. has is strings.HasPrefix or strings.HasSuffix.
func blankLinePad(s string, has func(string, string) bool) string {
	switch {
	case has(s, "\n\n"):
		return ""
	case has(s, "\n"):
		return "\n"
	}
	return "\n\n"
}
