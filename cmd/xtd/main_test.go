package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/extractd/internal/schema"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

func TestParseIDs(t *testing.T) {
	tests := []struct {
		name    string
		raw     []string
		want    []int64
		wantErr bool
	}{
		{name: "empty", raw: nil, want: nil},
		{name: "comma separated", raw: []string{"1,2", " 3 "}, want: []int64{1, 2, 3}},
		{name: "blank parts skipped", raw: []string{"4,,5,"}, want: []int64{4, 5}},
		{name: "not a number", raw: []string{"x"}, wantErr: true},
		{name: "zero", raw: []string{"0"}, wantErr: true},
		{name: "negative", raw: []string{"-2"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIDs(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRenames(t *testing.T) {
	got, err := parseRenames([]string{"persons=people", " a/b = a/c "})
	require.NoError(t, err)
	assert.Equal(t, schema.Renames{"persons": "people", "a/b": "a/c"}, got)

	got, err = parseRenames(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, bad := range []string{"persons", "=people", "persons="} {
		_, err := parseRenames([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseScope(t *testing.T) {
	scope, err := parseScope([]string{"1,2"}, []string{"9"})
	require.NoError(t, err)
	assert.Equal(t, training.Scope{Files: []int64{1, 2}, Trees: []int64{9}}, scope)

	_, err = parseScope(nil, nil)
	assert.Error(t, err)
}

func TestWriteOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "-", []byte("x")))
	assert.Equal(t, "x", buf.String())

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, writeOutput(&buf, path, []byte("{}")))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))
}

func TestCommandTree(t *testing.T) {
	tests := [][]string{
		{"schema", "export"},
		{"schema", "import"},
		{"schema", "update"},
		{"reset-status"},
		{"model", "train"},
		{"model", "enable"},
		{"model", "disable"},
		{"model", "list"},
		{"model", "export"},
		{"model", "import"},
	}
	for _, path := range tests {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestArgsValidation(t *testing.T) {
	rootCmd.SetArgs([]string{"schema", "export", "not-a-number"})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid id")
}
