// Package sanitize cleans user-supplied free text before storage. Names
// and rule reasons end up rendered in the dashboard, so anything that
// looks like markup is stripped at the write path rather than trusted to
// the frontend's escaping.
package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// policy strips all HTML: Gearstock stores plain text only.
// Initialized once via sync.Once for thread-safe lazy initialization.
var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Text strips any markup from s, unescapes the entities bluemonday
// introduces, and trims surrounding whitespace. "<b>Somchai</b>" becomes
// "Somchai"; plain text passes through unchanged.
func Text(s string) string {
	cleaned := getPolicy().Sanitize(s)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
