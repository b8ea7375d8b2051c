// Package meta extracts page metadata for API responses.
package meta

import (
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/use-agent/pagelift/models"
)

// Extract reads title, description, byline, site name, language and Open
// Graph tags from rawHTML. Readability supplies the article fields; plain
// head tags fill whatever it leaves empty. fallbackTitle is used last.
func Extract(rawHTML, sourceURL, fallbackTitle string) (models.Metadata, models.OGMetadata) {
	md := models.Metadata{SourceURL: sourceURL}
	var og models.OGMetadata

	if u, err := nurl.Parse(sourceURL); err == nil {
		article, err := readability.FromReader(strings.NewReader(rawHTML), u)
		if err != nil {
			slog.Debug("readability: metadata extraction failed", "url", sourceURL, "error", err)
		} else {
			md.Title = strings.TrimSpace(article.Title)
			md.Description = strings.TrimSpace(article.Excerpt)
			md.Author = strings.TrimSpace(article.Byline)
			md.SiteName = strings.TrimSpace(article.SiteName)
			md.Language = strings.TrimSpace(article.Language)
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		if md.Title == "" {
			md.Title = fallbackTitle
		}
		return md, og
	}

	og = openGraph(doc)
	if md.Title == "" {
		md.Title = firstNonEmpty(strings.TrimSpace(doc.Find("head title").First().Text()), og.Title, fallbackTitle)
	}
	if md.Description == "" {
		md.Description = firstNonEmpty(metaContent(doc, "description"), og.Description)
	}
	if md.Author == "" {
		md.Author = metaContent(doc, "author")
	}
	if md.Language == "" {
		md.Language, _ = doc.Find("html").First().Attr("lang")
	}
	return md, og
}

// openGraph collects og:* properties.
func openGraph(doc *goquery.Document) models.OGMetadata {
	var og models.OGMetadata
	doc.Find("meta[property]").Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		content, _ := s.Attr("content")
		if content == "" {
			return
		}
		switch prop {
		case "og:title":
			og.Title = content
		case "og:description":
			og.Description = content
		case "og:image":
			og.Image = content
		case "og:type":
			og.Type = content
		}
	})
	return og
}

func metaContent(doc *goquery.Document, name string) string {
	v, _ := doc.Find(`meta[name="` + name + `"]`).First().Attr("content")
	return strings.TrimSpace(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
