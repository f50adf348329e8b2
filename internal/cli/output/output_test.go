package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type caches [][]string

func (c caches) Headers() []string { return []string{"Name", "Principal"} }
func (c caches) Rows() [][]string  { return c }

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "JSON": FormatJSON, " yml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestPrint(t *testing.T) {
	data := caches{{"API:alice", "alice@EXAMPLE.COM"}}

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, data))
	assert.Contains(t, buf.String(), "NAME")
	assert.Contains(t, buf.String(), "alice@EXAMPLE.COM")

	buf.Reset()
	require.NoError(t, Print(&buf, FormatJSON, map[string]int{"held": 2}))
	assert.JSONEq(t, `{"held":2}`, buf.String())

	buf.Reset()
	require.NoError(t, Print(&buf, FormatYAML, map[string]int{"held": 2}))
	assert.Equal(t, "held: 2\n", buf.String())

	buf.Reset()
	require.NoError(t, Print(&buf, FormatTable, []int{1}), "non-table data falls back to JSON")
	assert.JSONEq(t, "[1]", buf.String())
}

func TestKeyValues(t *testing.T) {
	var buf bytes.Buffer
	KeyValues(&buf, [][2]string{{"Socket", "/run/ccsd.sock"}})
	assert.Contains(t, buf.String(), "/run/ccsd.sock")
}
