package markup

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var spaceReplacer = strings.NewReplacer("\u00a0", " ", "\u202f", " ")

// NormalizeSpaces turns non-breaking and narrow no-break spaces into plain
// spaces. Editors drop them on insertion otherwise.
func NormalizeSpaces(s string) string {
	return spaceReplacer.Replace(s)
}

// ImageURLs lists the src of every <img> in document order, duplicates
// included.
func ImageURLs(raw string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	var urls []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && strings.TrimSpace(src) != "" {
			urls = append(urls, src)
		}
	})
	return urls, nil
}

// ReplaceImageURLs rewrites every <img src> through fn. An empty return
// value keeps the original source. Fragments stay fragments.
func ReplaceImageURLs(raw string, fn func(src string) string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", err
	}
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if next := fn(src); next != "" && next != src {
			s.SetAttr("src", next)
		}
	})
	if isDocument(raw) {
		return doc.Html()
	}
	return doc.Find("body").Html()
}

var documentRe = regexp.MustCompile(`(?i)<(?:!doctype|html|head|body)[\s>]`)

func isDocument(raw string) bool {
	return documentRe.MatchString(raw)
}

// ExtractBody returns the inner HTML of the body element, dropping any
// surrounding document structure.
func ExtractBody(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", err
	}
	return doc.Find("body").Html()
}
