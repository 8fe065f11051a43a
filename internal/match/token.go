package match

import "strings"

// Tokenize splits a command line into expression tokens. Parentheses glued to
// a word become tokens of their own: "-(FR DE)" yields "-(", "FR", "DE", ")".
func Tokenize(line string) []string {
	var out []string
	for _, f := range strings.Fields(line) {
	lead:
		for len(f) > 0 {
			switch {
			case f[0] == '(':
				out = append(out, "(")
				f = f[1:]
			case len(f) > 1 && (f[0] == '-' || f[0] == '+') && f[1] == '(':
				out = append(out, f[:2])
				f = f[2:]
			default:
				break lead
			}
		}
		closes := 0
		for strings.HasSuffix(f, ")") {
			f = f[:len(f)-1]
			closes++
		}
		if f != "" {
			out = append(out, f)
		}
		for ; closes > 0; closes-- {
			out = append(out, ")")
		}
	}
	return out
}
