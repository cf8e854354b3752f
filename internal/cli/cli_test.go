package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOntology = `
tools:
  - name: car
    tool: rectangle
classifications:
  - name: weather
    type: checklist
    options:
      - value: sunny
      - value: windy
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	viper.Reset()
	cfgFile = ""
	ontologyFile, projectID, listFile = "", "", ""
	checkDataRows, strictUUIDs, jsonOutput, inspectVariants = false, false, false, false
	normalizeOut = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "labelwire v"))
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	ont := writeFile(t, dir, "ontology.yaml", testOntology)
	good := writeFile(t, dir, "good.ndjson",
		`{"uuid":"u1","dataRow":{"globalKey":"gk"},"name":"weather","answers":[{"name":"sunny"},{"name":"windy"}]}`+"\n")
	bad := writeFile(t, dir, "bad.ndjson",
		`{"uuid":"u1","dataRow":{"id":"dr1"},"name":"truck","bbox":{"top":0,"left":0,"height":1,"width":1}}`+"\n")

	out, err := execute(t, "validate", good, "--ontology", ont)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+good)

	out, err = execute(t, "validate", good, bad, "--ontology", ont)
	assert.ErrorIs(t, err, errValidationFailed)
	assert.Contains(t, out, "✗ "+bad+":0")
	assert.Contains(t, out, "truck")
}

func TestValidateCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	ont := writeFile(t, dir, "ontology.yaml", testOntology)
	bad := writeFile(t, dir, "bad.ndjson", "{\"uuid\":\"a\",\"dataRow\":{\"id\":\"d\"},\"name\":\"car\",\"point\":{\"x\":1,\"y\":1}}\n")

	out, err := execute(t, "validate", bad, "--ontology", ont, "--json")
	assert.ErrorIs(t, err, errValidationFailed)
	assert.Contains(t, out, `"kind": "WrongTool"`)
}

func TestValidateCommand_NeedsOntology(t *testing.T) {
	_, err := execute(t, "validate", "x.ndjson")
	assert.ErrorContains(t, err, "ontology is required")
}

func TestNormalizeCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.ndjson", strings.Join([]string{
		`{"uuid":"a","dataRow":{"id":"dr2"},"name":"caption","answer":"x"}`,
		`{"uuid":"b","dataRow":{"id":"dr1"},"name":"caption","answer":"y"}`,
		`{"uuid":"c","dataRow":{"id":"dr2"},"name":"caption","answer":"z"}`,
	}, "\n"))
	outPath := filepath.Join(dir, "out.ndjson")

	_, err := execute(t, "normalize", in, "-o", outPath)
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"answer":"x"`)
	assert.Contains(t, lines[1], `"answer":"z"`)
	assert.Contains(t, lines[2], `"answer":"y"`)
}

func TestInspectCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.ndjson", strings.Join([]string{
		`{"uuid":"a","dataRow":{"id":"dr1"},"name":"caption","answer":"x"}`,
		`{"uuid":"b","dataRow":{"id":"dr1"},"name":"car","bbox":{"top":0,"left":0,"height":1,"width":1}}`,
		`{"uuid":"c","dataRow":{"id":"dr1"},"name":"car"}`,
	}, "\n"))

	out, err := execute(t, "inspect", in)
	require.NoError(t, err)
	assert.Regexp(t, `records\s+3`, out)
	assert.Regexp(t, `unrecognized\s+1`, out)
	assert.Regexp(t, `rectangle\s+1`, out)
	assert.Regexp(t, `labels\s+1`, out)
}

func TestInspectCommand_Variants(t *testing.T) {
	out, err := execute(t, "inspect", "--variants")
	require.NoError(t, err)
	assert.Contains(t, out, "document_rectangle")
	assert.Contains(t, out, "bbox, page, unit")
}

func TestCacheCommands(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", "cache:\n  disk_dir: "+filepath.Join(dir, "cache")+"\n")
	stale := filepath.Join(dir, "cache", "stale.doc")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("0\n{}"), 0o644))

	out, err := execute(t, "cache", "prune", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 expired entries")

	_, err = execute(t, "cache", "clear", "--config", cfg)
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "cache"))
}

func TestConfigInitAndShow(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	viper.Reset()
	cfgFile = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})

	rootCmd.SetArgs([]string{"config", "init"})
	require.NoError(t, rootCmd.Execute())
	assert.FileExists(t, filepath.Join(home, ".labelwire", "config.yaml"))

	rootCmd.SetArgs([]string{"config", "init"})
	assert.ErrorContains(t, rootCmd.Execute(), "already exists")

	t.Setenv("LABELWIRE_API_KEY", "k-secret")
	out.Reset()
	viper.Reset()
	rootCmd.SetArgs([]string{"config", "show"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "rate_limiting:")
	assert.Contains(t, out.String(), "[set]")
	assert.NotContains(t, out.String(), "k-secret")
}
