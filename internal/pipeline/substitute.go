package pipeline

import (
	"regexp"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Substitute replaces {{Name}} placeholders with context values. Unknown
// names are left intact so a typo is visible in the logged command instead
// of silently vanishing.
func Substitute(command string, ctx domain.Context) string {
	return placeholderRe.ReplaceAllStringFunc(command, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := ctx[name]; ok {
			return v
		}
		return m
	})
}
