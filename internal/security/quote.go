package security

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// QuoteArg renders value as a single shell word.
func QuoteArg(value string) string {
	quoted, quoteError := syntax.Quote(value, syntax.LangBash)
	if quoteError == nil {
		return quoted
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

func JoinCommand(program string, args []string) string {
	var builder strings.Builder
	builder.WriteString(QuoteArg(program))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(QuoteArg(arg))
	}
	return builder.String()
}
