package render

import (
	"strings"
	"unicode"
)

// HumanLabel turns a camel-cased field name into a readable label:
// a space is inserted before every interior capital and the first rune is
// upper-cased. "CompanyName" and "companyName" both become "Company Name".
func HumanLabel(key string) string {
	var b strings.Builder
	b.Grow(len(key) + 4)

	for i, r := range key {
		if i == 0 {
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		if unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
