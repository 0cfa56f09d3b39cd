//go:build !windows

package strategy

import "strings"

const (
	shellPath = "/bin/sh"
	shellMeta = "|&;<>*?`$\"'(){}[]~"
)

func shellArgs(script string) []string { return []string{"-c", script} }

func quoteArg(a string) string {
	if a != "" && !strings.ContainsAny(a, shellMeta+" \t\n\\") {
		return a
	}
	return "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
}
