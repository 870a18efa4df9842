package cli

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/turtacn/TrialScope/pkg/errors"
)

func TestFormatTable(t *testing.T) {
	got := FormatTable([]string{"A", "LONGER"}, [][]string{
		{"first", "x"},
		{"b", "yy"},
	})
	want := "A      LONGER\n" +
		"-----  ------\n" +
		"first  x\n" +
		"b      yy\n"
	assert.Equal(t, want, got)
}

func TestFormatTable_ShortRowsAndNoHeaders(t *testing.T) {
	assert.Equal(t, "", FormatTable(nil, [][]string{{"x"}}))

	got := FormatTable([]string{"K", "V"}, [][]string{{"only"}})
	assert.Equal(t, "K     V\n----  -\nonly  \n", got)
}

func TestPrintError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"coded", errors.InvalidParam("bad input"), "Error: [COMMON_002] bad input\n"},
		{"plain", fmt.Errorf("boom"), "Error: [COMMON_001] boom\n"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cmd := &cobra.Command{}
			cmd.SetErr(&buf)
			PrintError(cmd, tt.err)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrintResult_WithoutContextUsesJSON(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	assert.NoError(t, PrintResult(cmd, map[string]int{"n": 1}))
	assert.JSONEq(t, `{"n":1}`, buf.String())
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "-", formatValue(nil))
	assert.Equal(t, "Phase 3", formatValue("Phase 3"))
	assert.Equal(t, "-", formatValue([]string{}))
	assert.Equal(t, "US, DE", formatValue([]string{"US", "DE"}))
	assert.Equal(t, "600", formatValue(600.0))
	assert.Equal(t, "true", formatValue(true))
	assert.Equal(t, `{"max":65,"min":18}`, formatValue(map[string]int{"min": 18, "max": 65}))
}
