package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
log:
  level: error
store:
  driver: badger
  path: %s
entities:
  - entity: Account
    indexes:
      - name: kind
        field: _id
        pk: [accountId]
        sk: [username]
      - name: byUsername
        field: _id2
        pk: [username]
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "slotdb.yaml")
	data := strings.Replace(testConfig, "%s", filepath.Join(dir, "data"), 1)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "slotdb version "+version+"\n", out)
}

func TestEncodeDecode(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "encode", "Account", `{"accountId": 1234, "username": "antonio"}`)
	require.NoError(t, err)
	var slots map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &slots))
	assert.Equal(t, map[string]string{
		"_id":  "account:_id#741234↠antonio",
		"_id2": "account:_id2#antonio",
	}, slots)

	out, err = run(t, "decode", "account:_id#741234↠antonio")
	require.NoError(t, err)
	var parts map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &parts))
	assert.Equal(t, "account", parts["typeTag"])
	assert.Equal(t, []any{"741234 (1234)"}, parts["pk"])
	assert.Equal(t, []any{"antonio"}, parts["sk"])

	_, err = run(t, "--config", cfg, "encode", "Invoice", `{}`)
	assert.ErrorContains(t, err, "unknown entity")
}

func TestExplain(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "explain", "Account", `{"username": "antonio"}`)
	require.NoError(t, err)
	var plan map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, "byUsername", plan["index"])

	_, err = run(t, "--config", cfg, "explain", "Account", `{"plan": "free"}`)
	assert.ErrorContains(t, err, "unresolvable")
}

func TestItemCommands(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, "--config", cfg, "put", "Account", `{"accountId": 1234, "username": "antonio", "plan": "free"}`)
	require.NoError(t, err)
	_, err = run(t, "--config", cfg, "put", "Account", `{"accountId": 7, "username": "bea"}`)
	require.NoError(t, err)

	_, err = run(t, "--config", cfg, "put", "Account", `{"accountId": 7, "username": "bea"}`)
	assert.ErrorContains(t, err, "already exists")

	out, err := run(t, "--config", cfg, "get", "Account", "account:_id#741234↠antonio")
	require.NoError(t, err)
	assert.Contains(t, out, `"plan": "free"`)

	out, err = run(t, "--config", cfg, "find", "Account", `{"username": "bea"}`)
	require.NoError(t, err)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "account:_id#717↠bea", recs[0]["id"])

	out, err = run(t, "--config", cfg, "find", "Account", `{"username": "antonio"}`, "--fields", "plan")
	require.NoError(t, err)
	recs = nil
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, map[string]any{"plan": "free"}, recs[0]["item"])

	out, err = run(t, "--config", cfg, "update", "Account", `{"accountId": 1234, "username": "antonio"}`, `{"$inc": {"logins": 1}}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"logins": 1`)

	_, err = run(t, "--config", cfg, "update", "Account", `{"username": "nobody"}`, `{"plan": "pro"}`)
	assert.ErrorContains(t, err, "not found")

	_, err = run(t, "--config", cfg, "delete", "Account", `{"username": "bea"}`)
	require.NoError(t, err)
	_, err = run(t, "--config", cfg, "get", "Account", "account:_id#717↠bea")
	assert.ErrorContains(t, err, "not found")
}
