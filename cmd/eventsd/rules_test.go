package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRules(t *testing.T, content string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	var out bytes.Buffer
	rulesCheckCmd.SetOut(&out)
	err := runRulesCheck(rulesCheckCmd, []string{path})
	return out.String(), err
}

func TestRulesCheck_Valid(t *testing.T) {
	out, err := runRules(t, `
rules:
  - id: package-at-door
    name: Package at front door
    conditions:
      object_types: [package]
    actions:
      - type: dashboard
    cooldown_seconds: 60
  - id: night-person
    name: Person at night
    enabled: false
    conditions:
      schedule: {start: "22:00", end: "06:00"}
    actions:
      - type: push
`)
	require.NoError(t, err)
	assert.Contains(t, out, "package-at-door")
	assert.Contains(t, out, "cooldown 1m0s")
	assert.Contains(t, out, "disabled")
}

func TestRulesCheck_ReportsCompileErrors(t *testing.T) {
	out, err := runRules(t, `
rules:
  - id: ok
    conditions:
      object_types: [person]
    actions:
      - type: dashboard
  - id: broken-hook
    conditions:
      object_types: [vehicle]
    actions:
      - type: webhook
  - id: bad-schedule
    conditions:
      schedule: {start: "25:00", end: "06:00"}
    actions:
      - type: push
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 rules failed")
	assert.Contains(t, out, "FAIL  broken-hook")
	assert.Contains(t, out, "FAIL  bad-schedule")
}

func TestRulesCheck_MissingFile(t *testing.T) {
	err := runRulesCheck(rulesCheckCmd, []string{filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}
