package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureYAML = `
types:
  FIRST_NAME: [LcNoDiacritics]
entries:
  - {field: FIRST_NAME, value: bob, datatype: person, uid: 1}
  - {field: FIRST_NAME, value: bob, datatype: person, uid: 2}
  - {field: FIRST_NAME, value: eve, datatype: person, uid: 3}
  - {field: FIRST_NAME, value: alice, datatype: person, uid: 4}
  - {field: MSG_SIZE, value: "04", datatype: mail, uid: 1}
  - {field: MSG_SIZE, value: "05", datatype: mail, uid: 2}
  - {field: MSG_SIZE, value: "06", datatype: mail, uid: 3}
  - {field: MSG_SIZE, value: "09", datatype: mail, uid: 4}
  - {field: MSG_SIZE, value: "10", datatype: mail, uid: 5}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func queryJSON(t *testing.T, query string, extra ...string) []Hit {
	t.Helper()
	dir := t.TempDir()
	index := writeFile(t, dir, "index.yaml", fixtureYAML)
	q := writeFile(t, dir, "query.yaml", query)

	args := append([]string{"query", "--index", index, "--query", q, "--json", "--cache-dir", filepath.Join(dir, "cache")}, extra...)
	var hits []Hit
	require.NoError(t, json.Unmarshal([]byte(execute(t, args...)), &hits))
	return hits
}

func hitUIDs(hits []Hit) []uint32 {
	out := make([]uint32, len(hits))
	for i, h := range hits {
		out[i] = uint32(h.UID)
	}
	return out
}

func TestQueryCmd_HasFlags(t *testing.T) {
	cmd := NewRootCmd()
	queryCmd, _, err := cmd.Find([]string{"query"})
	require.NoError(t, err)

	for _, name := range []string{"index", "query", "config", "cache-dir", "lock-file", "query-id", "scan-id", "persist-threshold", "aggregate", "json"} {
		assert.NotNil(t, queryCmd.Flags().Lookup(name), name)
	}
}

func TestQuery_Range(t *testing.T) {
	hits := queryJSON(t, `
range: {field: MSG_SIZE, lower: "05", lower_inclusive: true, upper: "10"}
`, "--persist-threshold", "0")

	assert.Equal(t, []uint32{2, 3, 4}, hitUIDs(hits))
}

func TestQuery_AndWithListAndExclude(t *testing.T) {
	hits := queryJSON(t, `
and:
  include:
    - list: {field: FIRST_NAME, values: [bob, eve]}
    - prefix: {field: MSG_SIZE, prefix: "0"}
  exclude:
    - equals: {field: FIRST_NAME, value: eve}
`, "--aggregate", "FIRST_NAME")

	require.Len(t, hits, 2)
	assert.Equal(t, []uint32{1, 2}, hitUIDs(hits))
	assert.Equal(t, []string{"bob"}, hits[0].Document["FIRST_NAME"])
}

func TestQuery_Or(t *testing.T) {
	hits := queryJSON(t, `
or:
  - equals: {field: FIRST_NAME, value: alice}
  - list: {field: FIRST_NAME, values: [bob], negated: true}
`)

	assert.Equal(t, []uint32{3, 4}, hitUIDs(hits))
}

func TestQuery_ScanIDScopesCacheReuse(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache")
	full := writeFile(t, dir, "full.yaml", fixtureYAML)
	small := writeFile(t, dir, "small.yaml", `
entries:
  - {field: MSG_SIZE, value: "07", datatype: mail, uid: 42}
`)
	q := writeFile(t, dir, "query.yaml", `range: {field: MSG_SIZE, lower: "05", lower_inclusive: true, upper: "10"}`)

	run := func(index, scanID string) []uint32 {
		out := execute(t, "query", "--index", index, "--query", q, "--json",
			"--cache-dir", cache, "--query-id", "q1", "--scan-id", scanID, "--persist-threshold", "0")
		var hits []Hit
		require.NoError(t, json.Unmarshal([]byte(out), &hits))
		return hitUIDs(hits)
	}

	assert.Equal(t, []uint32{2, 3, 4}, run(full, "shard-a"))
	// The scan ID names what was scanned, so the completed directory answers.
	assert.Equal(t, []uint32{2, 3, 4}, run(small, "shard-a"))
	assert.Equal(t, []uint32{42}, run(small, "shard-b"))
}

func TestQuery_TableOutput(t *testing.T) {
	dir := t.TempDir()
	index := writeFile(t, dir, "index.yaml", fixtureYAML)
	q := writeFile(t, dir, "query.yaml", "equals: {field: FIRST_NAME, value: bob}\n")

	out := execute(t, "query", "--index", index, "--query", q)
	assert.Contains(t, out, "UID")
	assert.Contains(t, out, "2")
}

func TestFSTBuildAndQuery(t *testing.T) {
	dir := t.TempDir()
	uri := "file://" + filepath.ToSlash(dir) + "/names.fst"
	execute(t, "fst", "build", uri, "bob", "eve", "--codec", "lz4")

	out := execute(t, "fst", "dump", uri, "--codec", "lz4")
	assert.Equal(t, "bob\neve\n", out)

	hits := queryJSON(t, "list: {field: FIRST_NAME, fst: \""+uri+"\", codec: lz4}\n")
	assert.Equal(t, []uint32{1, 2, 3}, hitUIDs(hits))
}
