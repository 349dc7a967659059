package security

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// detectShellConstructs returns a non-empty reason when command is anything
// other than a single plain word list.
func detectShellConstructs(command string) string {
	parser := syntax.NewParser()
	file, parseError := parser.Parse(strings.NewReader(command), "")
	if parseError != nil {
		return "command does not parse: " + parseError.Error()
	}
	if len(file.Stmts) != 1 {
		return "multiple commands detected"
	}
	statement := file.Stmts[0]
	if statement.Background || statement.Coprocess || statement.Negated {
		return "command operators detected"
	}
	call, ok := statement.Cmd.(*syntax.CallExpr)
	if !ok {
		return "only a simple command is allowed"
	}
	if len(call.Assigns) > 0 {
		return "variable assignment detected"
	}

	reason := ""
	syntax.Walk(file, func(node syntax.Node) bool {
		if reason != "" {
			return false
		}
		switch node.(type) {
		case *syntax.Redirect:
			reason = "shell redirection detected"
		case *syntax.CmdSubst:
			reason = "command substitution detected"
		case *syntax.ProcSubst:
			reason = "process substitution detected"
		case *syntax.ParamExp:
			reason = "variable expansion detected"
		case *syntax.ArithmExp:
			reason = "arithmetic expansion detected"
		case *syntax.ExtGlob:
			reason = "extended glob detected"
		case *syntax.BinaryCmd:
			reason = "pipeline or command list detected"
		}
		return reason == ""
	})
	return reason
}
