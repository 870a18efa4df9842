package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/TrialScope/internal/domain/protocol"
)

// NewMetadataCmd creates the metadata command, which prints the feature
// catalog: module-provided entries first, then the curated external ones.
func NewMetadataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metadata",
		Short: "List the feature metadata catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			return PrintResult(cmd, metadataView(cliCtx.Service.Metadata()))
		},
	}
}

// NewModulesCmd creates the modules command.
func NewModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List registered extraction modules in run order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			return PrintResult(cmd, nameList{header: "MODULE", names: cliCtx.Service.ModuleNames()})
		},
	}
}

// NewProfilesCmd creates the profiles command.
func NewProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List available weight profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			return PrintResult(cmd, nameList{header: "PROFILE", names: cliCtx.Service.ProfileNames()})
		},
	}
}

type metadataView []protocol.Metadata

func (v metadataView) TableHeaders() []string {
	return []string{"ID", "NAME", "TYPE", "OPTIONS"}
}

func (v metadataView) TableRows() [][]string {
	rows := make([][]string, len(v))
	for i, m := range v {
		labels := make([]string, len(m.Options))
		for j, o := range m.Options {
			labels[j] = o.Label
		}
		rows[i] = []string{m.ID, m.Name, string(m.FeatureType), strings.Join(labels, ", ")}
	}
	return rows
}

func (v metadataView) String() string {
	var sb strings.Builder
	for _, m := range v {
		fmt.Fprintf(&sb, "%-22s %-9s %s\n", m.ID, m.FeatureType, m.Name)
	}
	return sb.String()
}

// nameList is a single-column listing.  JSON output is a plain array.
type nameList struct {
	header string
	names  []string
}

func (l nameList) MarshalJSON() ([]byte, error) {
	if l.names == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.names)
}

func (l nameList) TableHeaders() []string { return []string{l.header} }

func (l nameList) TableRows() [][]string {
	rows := make([][]string, len(l.names))
	for i, n := range l.names {
		rows[i] = []string{n}
	}
	return rows
}

func (l nameList) String() string {
	if len(l.names) == 0 {
		return ""
	}
	return strings.Join(l.names, "\n") + "\n"
}
