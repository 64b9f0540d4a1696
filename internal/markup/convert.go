package markup

import (
	"bytes"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// file: and data: image sources must survive rendering; the sanitizer is the
// component that decides which of them are allowed.
var mdRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// MarkdownToHTML renders a body-only HTML fragment.
func MarkdownToHTML(source string) (string, error) {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// A Markdown link destination ends at the first whitespace, so sources are
// percent-escaped before conversion.
var destinationEscaper = strings.NewReplacer(" ", "%20", "\t", "%09", "\n", "%0A", "\r", "%0D")

func escapeDestinations(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", err
	}
	changed := false
	for _, attr := range []string{"src", "href"} {
		doc.Find("[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
			v, _ := s.Attr(attr)
			if esc := destinationEscaper.Replace(strings.TrimSpace(v)); esc != v {
				s.SetAttr(attr, esc)
				changed = true
			}
		})
	}
	if !changed {
		return raw, nil
	}
	return doc.Html()
}

func HTMLToMarkdown(raw string) (string, error) {
	raw, err := escapeDestinations(raw)
	if err != nil {
		return "", err
	}
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	out, err := conv.ConvertString(raw)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out) + "\n", nil
}
