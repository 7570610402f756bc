package capture

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultExpiredMarkers are literal strings of parked-domain pages.
var DefaultExpiredMarkers = []string{"This domain has expired."}

// DefaultErrorTitles are title fragments of generic error and takedown pages.
var DefaultErrorTitles = []string{
	"Not Found",
	"404 Not Found",
	"Suspected phishing",
	"Office of Information Technology",
	"Vite + Vue",
}

// document is what the post-load filters look at.
type document struct {
	title string
	text  string
}

// inspectDocument parses html leniently. Unparseable markup yields an
// empty document rather than an error.
func inspectDocument(html string) document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return document{}
	}
	return document{
		title: strings.TrimSpace(doc.Find("title").First().Text()),
		text:  doc.Find("body").Text(),
	}
}

func containsAny(s string, needles []string) (string, bool) {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return n, true
		}
	}
	return "", false
}
