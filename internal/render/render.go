// Package render substitutes rule template variables into the outgoing DM
// text. The contract favors graceful degradation: a typo'd placeholder is
// left verbatim in the output instead of blocking delivery, and a missing
// value renders as an empty string.
package render

import (
	"regexp"
	"strings"
)

// Vars is the variable bag available to rule templates.
type Vars struct {
	Username    string
	CommentText string
	PostLink    string
	PostCaption string
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// Render replaces every recognized {{placeholder}} in the template.
// Unrecognized placeholders pass through untouched.
func Render(template string, vars Vars) string {
	known := map[string]string{
		"username":     vars.Username,
		"comment_text": vars.CommentText,
		"post_link":    vars.PostLink,
		"post_caption": vars.PostCaption,
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(strings.Trim(match, "{}"))
		if val, ok := known[name]; ok {
			return val
		}
		return match
	})
}
