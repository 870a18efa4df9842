package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/TrialScope/internal/application/feasibility"
)

// NewPhonesCmd creates the phones command, a standalone scan for
// international phone numbers.
func NewPhonesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phones <file>",
		Short: "List international phone numbers found in a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			doc, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			hits, err := cliCtx.Service.Phones(doc)
			if err != nil {
				return err
			}
			return PrintResult(cmd, phonesView(hits))
		},
	}
}

type phonesView []feasibility.PhoneHit

func (v phonesView) TableHeaders() []string {
	return []string{"PAGE", "NUMBER", "COUNTRY"}
}

func (v phonesView) TableRows() [][]string {
	rows := make([][]string, len(v))
	for i, h := range v {
		rows[i] = []string{fmt.Sprint(h.PageNumber), h.Number, h.Country}
	}
	return rows
}

func (v phonesView) String() string {
	if len(v) == 0 {
		return "no phone numbers found\n"
	}
	var sb strings.Builder
	for _, h := range v {
		fmt.Fprintf(&sb, "page %d: %s (%s)\n", h.PageNumber, h.Number, h.Country)
	}
	return sb.String()
}
