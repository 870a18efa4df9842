package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/TrialScope/internal/application/feasibility"
	extractor "github.com/turtacn/TrialScope/internal/intelligence/protocol_extractor"
	"github.com/turtacn/TrialScope/pkg/errors"
)

func TestNewAnalyzeCmd_Flags(t *testing.T) {
	cmd := NewAnalyzeCmd()
	for _, name := range []string{"exclude", "parallel", "profile", "no-cache", "watch"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestAnalyze_RequiresFile(t *testing.T) {
	_, _, err := run(t, "", "--config", writeConfig(t, ""), "analyze")
	assert.Error(t, err)
}

func TestAnalyze_JSON(t *testing.T) {
	doc := writeProtocol(t, "protocol.txt", sampleProtocol)
	out, _, err := run(t, "", "--config", writeConfig(t, ""), "-o", "json", "analyze", doc)
	require.NoError(t, err)

	var a feasibility.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, "protocol.txt", a.DocumentID)
	assert.NotEmpty(t, a.RunID)
	assert.NotEmpty(t, a.Fingerprint)
	assert.Contains(t, a.Predictions, extractor.ModulePhase)
	assert.Len(t, a.Predictions, len(extractor.DefaultModules()))
	require.NotNil(t, a.Score)
	assert.Equal(t, "default", a.Score.Profile)
}

func TestAnalyze_Exclude(t *testing.T) {
	doc := writeProtocol(t, "protocol.txt", sampleProtocol)
	out, _, err := run(t, "", "--config", writeConfig(t, ""), "-o", "json",
		"analyze", "--exclude", extractor.ModulePhase+","+extractor.ModuleCountry, doc)
	require.NoError(t, err)

	var a feasibility.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.NotContains(t, a.Predictions, extractor.ModulePhase)
	assert.NotContains(t, a.Predictions, extractor.ModuleCountry)
	assert.Len(t, a.Predictions, len(extractor.DefaultModules())-2)
}

func TestAnalyze_Sequential(t *testing.T) {
	doc := writeProtocol(t, "protocol.txt", sampleProtocol)
	out, _, err := run(t, "", "--config", writeConfig(t, ""), "-o", "json", "analyze", "--parallel=false", doc)
	require.NoError(t, err)

	var a feasibility.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, "sequential", a.Mode)
}

func TestAnalyze_UnknownProfile(t *testing.T) {
	doc := writeProtocol(t, "protocol.txt", sampleProtocol)
	_, _, err := run(t, "", "--config", writeConfig(t, ""), "analyze", "--profile", "nope", doc)
	require.Error(t, err)
}

func TestAnalyze_Table(t *testing.T) {
	doc := writeProtocol(t, "protocol.txt", sampleProtocol)
	out, _, err := run(t, "", "--config", writeConfig(t, ""), "-o", "table", "analyze", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "MODULE")
	assert.Contains(t, out, "PREDICTION")
	assert.Contains(t, out, "cost_score")
	assert.Contains(t, out, extractor.ModulePhase)
}

func TestAnalyze_Text(t *testing.T) {
	doc := writeProtocol(t, "protocol.txt", sampleProtocol)
	out, _, err := run(t, "", "--config", writeConfig(t, ""), "analyze", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "document:  protocol.txt")
	assert.Contains(t, out, "profile:   default")
	assert.Contains(t, out, "0 failed")
}

func TestAnalyze_Stdin(t *testing.T) {
	out, _, err := run(t, sampleProtocol, "--config", writeConfig(t, ""), "-o", "json", "analyze", "-")
	require.NoError(t, err)

	var a feasibility.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, "stdin", a.DocumentID)
}

func TestAnalyze_MissingFile(t *testing.T) {
	_, _, err := run(t, "", "--config", writeConfig(t, ""), "analyze", filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDocumentRead))
}

func TestAnalyze_Batch(t *testing.T) {
	first := writeProtocol(t, "first.txt", sampleProtocol)
	second := writeProtocol(t, "second.txt", "A phase 1 study in healthy volunteers.")

	out, _, err := run(t, "", "--config", writeConfig(t, ""), "-o", "json", "analyze", first, second)
	require.NoError(t, err)

	var results []feasibility.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "first.txt", results[0].DocumentID)
	assert.Equal(t, "second.txt", results[1].DocumentID)
	assert.NotEqual(t, results[0].Fingerprint, results[1].Fingerprint)
}

func TestAnalyze_BatchText(t *testing.T) {
	first := writeProtocol(t, "first.txt", sampleProtocol)
	second := writeProtocol(t, "second.txt", "A phase 1 study in healthy volunteers.")

	out, _, err := run(t, "", "--config", writeConfig(t, ""), "analyze", first, second)
	require.NoError(t, err)
	assert.Contains(t, out, "document:  first.txt")
	assert.Contains(t, out, "document:  second.txt")
}

// syncBuffer lets the test read output while the command is still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAnalyze_WatchRequiresConfig(t *testing.T) {
	doc := writeProtocol(t, "protocol.txt", sampleProtocol)
	_, _, err := run(t, "", "analyze", "--watch", doc)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestAnalyze_WatchReanalysesOnConfigChange(t *testing.T) {
	cfgPath := writeConfig(t, "")
	doc := writeProtocol(t, "protocol.txt", sampleProtocol)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "analyze", "--watch", doc})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "profile:   default")
	}, 5*time.Second, 20*time.Millisecond)

	// The watcher may not be registered yet, so keep rewriting until the
	// reload shows up.
	reload := []byte("cache:\n  enabled: false\nscoring:\n  profile: vaccine\n")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(cfgPath, reload, 0o600)
		return strings.Contains(out.String(), "profile:   vaccine")
	}, 10*time.Second, 200*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}
