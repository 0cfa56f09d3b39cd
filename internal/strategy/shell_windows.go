//go:build windows

package strategy

import "strings"

const (
	shellPath = "cmd"
	shellMeta = "|&<>^%\"()"
)

func shellArgs(script string) []string { return []string{"/c", script} }

func quoteArg(a string) string {
	if a != "" && !strings.ContainsAny(a, " \t\"") {
		return a
	}
	return `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
}
