package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/TrialScope/pkg/errors"
)

// tableProvider is implemented by results that know how to render as rows.
type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult outputs data in the format held by CLIContext.  JSON is used
// when no context is available.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return printJSON(cmd, data)
	}

	switch cliCtx.OutputFormat {
	case OutputJSON:
		return printJSON(cmd, data)
	case OutputTable:
		return printTable(cmd, data)
	default:
		return printText(cmd, data)
	}
}

func printJSON(cmd *cobra.Command, data interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "cannot encode output")
	}
	return nil
}

func printText(cmd *cobra.Command, data interface{}) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	case fmt.Stringer:
		fmt.Fprint(cmd.OutOrStdout(), v.String())
	case tableProvider:
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(v.TableHeaders(), v.TableRows()))
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", v)
	}
	return nil
}

// printTable renders tableProvider values and falls back to text otherwise.
func printTable(cmd *cobra.Command, data interface{}) error {
	if tp, ok := data.(tableProvider); ok {
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(tp.TableHeaders(), tp.TableRows()))
		return nil
	}
	return printText(cmd, data)
}

// PrintError writes "Error: [CODE] message" to stderr.  Errors without a
// code are reported under the internal code.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "[") {
		msg = fmt.Sprintf("[%s] %s", errors.GetCode(err), msg)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", msg)
}

// FormatTable renders headers and rows as an aligned ASCII table.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	colWidths := make([]int, len(headers))
	for i, h := range headers {
		colWidths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(colWidths); i++ {
			if len(row[i]) > colWidths[i] {
				colWidths[i] = len(row[i])
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i := range headers {
			if i > 0 {
				sb.WriteString("  ")
			}
			val := ""
			if i < len(cells) {
				val = cells[i]
			}
			if i == len(headers)-1 {
				sb.WriteString(val)
			} else {
				sb.WriteString(padRight(val, colWidths[i]))
			}
		}
		sb.WriteString("\n")
	}

	writeRow(headers)
	sep := make([]string, len(colWidths))
	for i, w := range colWidths {
		sep[i] = strings.Repeat("-", w)
	}
	writeRow(sep)
	for _, row := range rows {
		writeRow(row)
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatValue renders a prediction compactly for text and table output.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		return x
	case []string:
		if len(x) == 0 {
			return "-"
		}
		return strings.Join(x, ", ")
	case float64:
		return fmt.Sprintf("%g", x)
	case fmt.Stringer:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
