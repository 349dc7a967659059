package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output renders command results as a table or, with --json, as indented
// JSON. Status messages go to errW so stdout stays machine readable.
type Output struct {
	jsonMode bool
	w        io.Writer
	errW     io.Writer
}

func NewOutput(jsonMode bool) *Output {
	return &Output{jsonMode: jsonMode, w: os.Stdout, errW: os.Stderr}
}

// NewOutputTo is NewOutput with explicit writers.
func NewOutputTo(jsonMode bool, w io.Writer, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

func (output *Output) JSONMode() bool {
	return output.jsonMode
}

func (output *Output) Writer() io.Writer {
	return output.w
}

func (output *Output) Print(headers []string, rows [][]string, jsonData any) {
	if output.jsonMode {
		output.JSON(jsonData)
		return
	}
	output.Table(headers, rows)
}

func (output *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(output.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	dashes := make([]string, len(headers))
	for index, header := range headers {
		dashes[index] = strings.Repeat("-", len(header))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

func (output *Output) JSON(value any) {
	encoder := json.NewEncoder(output.w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(value)
}

// Raw writes an inspection payload. JSON payloads are re-indented; anything
// else is written as received.
func (output *Output) Raw(data []byte, contentType string) {
	if strings.HasPrefix(contentType, "application/json") {
		var indented bytes.Buffer
		if err := json.Indent(&indented, data, "", "  "); err == nil {
			indented.WriteByte('\n')
			_, _ = output.w.Write(indented.Bytes())
			return
		}
	}
	_, _ = output.w.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		_, _ = io.WriteString(output.w, "\n")
	}
}

func (output *Output) Success(message string) {
	fmt.Fprintln(output.errW, message)
}

func (output *Output) Error(message string) {
	fmt.Fprintln(output.errW, "Error: "+message)
}
