package meta

import "testing"

const article = `<!doctype html>
<html lang="en">
<head>
<title>Field Notes | Example</title>
<meta name="description" content="Notes from the field.">
<meta name="author" content="R. Writer">
<meta property="og:title" content="Field Notes">
<meta property="og:image" content="https://example.com/cover.jpg">
<meta property="og:type" content="article">
</head>
<body><article><h1>Field Notes</h1>
<p>Paragraph one has enough words in it to look like real prose to the extraction algorithm, which wants content.</p>
<p>Paragraph two continues the thought with yet more words, commas, and sentences so scoring treats it as body text.</p>
</article></body></html>`

func TestExtract(t *testing.T) {
	md, og := Extract(article, "https://example.com/notes", "fallback")
	if md.Title == "" || md.Title == "fallback" {
		t.Errorf("Title = %q", md.Title)
	}
	if md.SourceURL != "https://example.com/notes" {
		t.Errorf("SourceURL = %q", md.SourceURL)
	}
	if md.Language != "en" {
		t.Errorf("Language = %q", md.Language)
	}
	if og.Image != "https://example.com/cover.jpg" || og.Type != "article" || og.Title != "Field Notes" {
		t.Errorf("og = %+v", og)
	}
}

func TestExtractFallbackTitle(t *testing.T) {
	md, _ := Extract("<html><body></body></html>", "https://example.com/", "From Browser")
	if md.Title != "From Browser" {
		t.Errorf("Title = %q, want fallback", md.Title)
	}
}
