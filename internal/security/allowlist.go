package security

import (
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

const (
	OutputFormatJSON = "json"
	OutputFormatText = "text"
)

var inspectionVerbs = map[string]bool{
	"get":      true,
	"describe": true,
	"logs":     true,
}

var structuredOutputVerbs = map[string]bool{
	"get":      true,
	"describe": true,
}

type inspectionFlag struct {
	shorthand byte
	value     bool
}

// Every flag an inspection may carry. Anything else is refused, which keeps
// out targeting flags (--context, --server/-s, --kubeconfig, --token, --as)
// and flags that write or read host files (--profile-output, --cache-dir,
// --log-file, --kuberc, --filename).
var inspectionFlags = map[string]map[string]inspectionFlag{
	"get": {
		"namespace":                   {shorthand: 'n', value: true},
		"all-namespaces":              {shorthand: 'A'},
		"selector":                    {shorthand: 'l', value: true},
		"field-selector":              {value: true},
		"output":                      {shorthand: 'o', value: true},
		"show-labels":                 {},
		"label-columns":               {shorthand: 'L', value: true},
		"sort-by":                     {value: true},
		"no-headers":                  {},
		"show-kind":                   {},
		"ignore-not-found":            {},
		"allow-missing-template-keys": {},
		"show-managed-fields":         {},
		"subresource":                 {value: true},
		"chunk-size":                  {value: true},
		"request-timeout":             {value: true},
	},
	"describe": {
		"namespace":       {shorthand: 'n', value: true},
		"all-namespaces":  {shorthand: 'A'},
		"selector":        {shorthand: 'l', value: true},
		"output":          {shorthand: 'o', value: true},
		"show-events":     {},
		"chunk-size":      {value: true},
		"request-timeout": {value: true},
	},
	"logs": {
		"namespace":           {shorthand: 'n', value: true},
		"selector":            {shorthand: 'l', value: true},
		"container":           {shorthand: 'c', value: true},
		"follow":              {shorthand: 'f'},
		"previous":            {shorthand: 'p'},
		"tail":                {value: true},
		"since":               {value: true},
		"since-time":          {value: true},
		"timestamps":          {},
		"all-containers":      {},
		"prefix":              {},
		"max-log-requests":    {value: true},
		"limit-bytes":         {value: true},
		"ignore-errors":       {},
		"pod-running-timeout": {value: true},
		"request-timeout":     {value: true},
	},
}

// Inspection is a read-only command that has passed the gate.
type Inspection struct {
	Verb         string
	Args         []string
	OutputFormat string
	// Follow is set when the command keeps streaming until killed.
	Follow bool
}

func (inspection Inspection) Argv() []string {
	argv := make([]string, 0, len(inspection.Args)+1)
	argv = append(argv, inspection.Verb)
	return append(argv, inspection.Args...)
}

// TargetedArgv pins the command to contextName. The context goes ahead of the
// verb so nothing the caller supplied can turn it into a positional argument.
func (inspection Inspection) TargetedArgv(contextName string) []string {
	return append([]string{"--context", contextName}, inspection.Argv()...)
}

func IsInspectionVerb(verb string) bool {
	return inspectionVerbs[verb]
}

// ParseInspection splits a caller-supplied command line into a verb and its
// arguments. The verb is checked against the allowlist before anything else
// happens to the input. Streaming commands are refused here; pod logs are
// followed through the log stream instead.
func ParseInspection(command string) (Inspection, error) {
	normalizedCommand := strings.TrimSpace(command)
	fields := strings.Fields(normalizedCommand)
	if len(fields) == 0 {
		return Inspection{}, invalid("inspection command is empty")
	}
	if !IsInspectionVerb(fields[0]) {
		return Inspection{}, forbidden("disallowed kubectl command: %s", fields[0])
	}

	if reason := detectShellConstructs(normalizedCommand); reason != "" {
		return Inspection{}, invalid("inspection command rejected: %s", reason)
	}
	words, expandError := shell.Fields(normalizedCommand, func(string) string { return "" })
	if expandError != nil {
		return Inspection{}, invalid("inspection command rejected: %v", expandError)
	}
	if len(words) == 0 || words[0] != fields[0] {
		return Inspection{}, forbidden("disallowed kubectl command: %s", fields[0])
	}
	inspection, buildError := BuildInspection(words[0], words[1:]...)
	if buildError != nil {
		return Inspection{}, buildError
	}
	if inspection.Follow {
		return Inspection{}, invalid("inspection commands cannot follow output; use the pod log stream")
	}
	return inspection, nil
}

// BuildInspection applies the same allowlist and flag policy to a command
// assembled in code.
func BuildInspection(verb string, args ...string) (Inspection, error) {
	if !IsInspectionVerb(verb) {
		return Inspection{}, forbidden("disallowed kubectl command: %s", verb)
	}
	flags, scanError := scanFlags(verb, args)
	if scanError != nil {
		return Inspection{}, scanError
	}

	inspection := Inspection{
		Verb:         verb,
		Args:         append([]string(nil), args...),
		OutputFormat: OutputFormatText,
		Follow:       flags.follow,
	}
	if flags.outputSet {
		if flags.output == OutputFormatJSON {
			inspection.OutputFormat = OutputFormatJSON
		}
		return inspection, nil
	}
	if structuredOutputVerbs[verb] {
		inspection.Args = append(inspection.Args, "-o", OutputFormatJSON)
		inspection.OutputFormat = OutputFormatJSON
	}
	return inspection, nil
}

type flagScan struct {
	output    string
	outputSet bool
	follow    bool
}

// scanFlags walks args the way kubectl's flag parser does: long flags take
// "=value" or the next argument, short flags may be clustered ("-Ao json")
// and a value flag consumes the rest of its cluster ("-ojson").
func scanFlags(verb string, args []string) (flagScan, error) {
	allowed := inspectionFlags[verb]
	scan := flagScan{}
	for index := 0; index < len(args); index++ {
		arg := args[index]
		switch {
		case arg == "--":
			return flagScan{}, forbidden("argument separator -- is not allowed in inspection commands")
		case strings.HasPrefix(arg, "--"):
			name, value, hasValue := strings.Cut(arg[2:], "=")
			flag, known := allowed[name]
			if !known {
				return flagScan{}, forbidden("flag --%s is not allowed in inspection commands", name)
			}
			if flag.value && !hasValue {
				if index+1 >= len(args) {
					return flagScan{}, invalid("flag --%s needs a value", name)
				}
				index++
				value = args[index]
			} else if !flag.value && !hasValue {
				value = "true"
			}
			if err := scan.record(name, value); err != nil {
				return flagScan{}, err
			}
		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			consumedNext, err := scan.shortCluster(allowed, arg[1:], args[index+1:])
			if err != nil {
				return flagScan{}, err
			}
			if consumedNext {
				index++
			}
		}
	}
	return scan, nil
}

func (scan *flagScan) shortCluster(allowed map[string]inspectionFlag, cluster string, rest []string) (bool, error) {
	for position := 0; position < len(cluster); position++ {
		name, flag, known := lookupShorthand(allowed, cluster[position])
		if !known {
			return false, forbidden("flag -%c is not allowed in inspection commands", cluster[position])
		}
		remainder := cluster[position+1:]
		if !flag.value {
			if strings.HasPrefix(remainder, "=") {
				return false, scan.record(name, remainder[1:])
			}
			if err := scan.record(name, "true"); err != nil {
				return false, err
			}
			continue
		}
		if remainder != "" {
			return false, scan.record(name, strings.TrimPrefix(remainder, "="))
		}
		if len(rest) == 0 {
			return false, invalid("flag -%c needs a value", cluster[position])
		}
		return true, scan.record(name, rest[0])
	}
	return false, nil
}

func lookupShorthand(allowed map[string]inspectionFlag, shorthand byte) (string, inspectionFlag, bool) {
	for name, flag := range allowed {
		if flag.shorthand != 0 && flag.shorthand == shorthand {
			return name, flag, true
		}
	}
	return "", inspectionFlag{}, false
}

func (scan *flagScan) record(name string, value string) error {
	switch name {
	case "output":
		// jsonpath-file, go-template-file and custom-columns-file read host files.
		format, _, _ := strings.Cut(value, "=")
		if strings.HasSuffix(format, "-file") {
			return forbidden("output format %s is not allowed in inspection commands", format)
		}
		scan.output = value
		scan.outputSet = true
	case "follow":
		follow, err := strconv.ParseBool(value)
		if err != nil {
			return invalid("invalid follow value %q", value)
		}
		scan.follow = follow
	}
	return nil
}
