package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alfredjeanlab/relaymux/internal/ui"
	"github.com/spf13/cobra"
)

// helpRule restyles every match of re in cobra's help text.
type helpRule struct {
	re    *regexp.Regexp
	style func(parts []string) string
}

var helpRules = []helpRule{
	// Group headers ("Events:", "Flags:").
	{
		re:    regexp.MustCompile(`(?m)^([A-Z][^\n]*:)[ \t]*$`),
		style: func(p []string) string { return ui.RenderAccent(strings.TrimSpace(p[1])) },
	},
	// Subcommand names in the command list.
	{
		re:    regexp.MustCompile(`(?m)^(  )([a-z][\w-]*)(  )`),
		style: func(p []string) string { return p[1] + ui.RenderCommand(p[2]) + p[3] },
	},
	// Flag value types.
	{
		re:    regexp.MustCompile(`(--?[\w-]+\s+)(string|strings|stringArray|int|int64|ints|duration)\b`),
		style: func(p []string) string { return p[1] + ui.RenderMuted(p[2]) },
	},
	{
		re:    regexp.MustCompile(`\(default [^)]*\)`),
		style: func(p []string) string { return ui.RenderMuted(p[0]) },
	},
}

func colorizeHelp(s string) string {
	for _, rule := range helpRules {
		s = rule.re.ReplaceAllStringFunc(s, func(match string) string {
			return rule.style(rule.re.FindStringSubmatch(match))
		})
	}
	return s
}

// colorizedHelpFunc renders cobra's usage text, colored when the terminal
// supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}
