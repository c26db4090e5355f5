package rewrite

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	// Markdown containers and spoilers
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^(md|md-spoiler-text)$`)).OnElements("div", "span")
	p.RequireNoReferrerOnLinks(true)
	return p
}

// SanitizeHTML strips everything but user content markup from html
func SanitizeHTML(html string) string {
	return policy.Sanitize(html)
}
