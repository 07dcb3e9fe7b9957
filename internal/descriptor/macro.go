package descriptor

import (
	"regexp"
	"strconv"
	"strings"
)

// macroRE matches $(Name) substitution points. Macro names are case-insensitive.
var macroRE = regexp.MustCompile(`\$\(([A-Za-z]+)\)`)

// ExpandMacros substitutes the macros in s for one trial.
//
// $(Process) expands to the zero-based trial ordinal and $(Cluster) to the
// submission's cluster ID. Unknown macros are left untouched so a surprising
// template shows up verbatim in diagnostics rather than silently vanishing.
func ExpandMacros(s, cluster string, ordinal int) string {
	return macroRE.ReplaceAllStringFunc(s, func(m string) string {
		name := strings.ToLower(macroRE.FindStringSubmatch(m)[1])
		switch name {
		case "process":
			return strconv.Itoa(ordinal)
		case "cluster":
			return cluster
		default:
			return m
		}
	})
}
