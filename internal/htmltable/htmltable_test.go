package htmltable

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><body>
<table><tr><td>outer</td></tr></table>
<table>
  <thead><tr><th>ID</th><th>Power</th></tr></thead>
  <tbody>
    <tr><td> 1 </td><td><b>1.2</b> dBmV</td></tr>
    <tr><td>2</td><td>-0.4 dBmV</td></tr>
  </tbody>
</table>
<table>
  <tr><td>a</td></tr>
  <tr><td><table><tr><td>nested</td></tr></table></td></tr>
</table>
</body></html>`

func TestParse(t *testing.T) {
	tables, err := Parse(strings.NewReader(page))
	require.NoError(t, err)
	require.Len(t, tables, 4)

	second := tables[1]
	require.Len(t, second.Rows, 3)
	assert.True(t, second.Rows[0].Header)
	assert.Empty(t, second.Rows[0].Cells)
	assert.Equal(t, []string{"1", "1.2 dBmV"}, second.Rows[1].Cells)
	assert.False(t, second.Rows[1].Header)

	require.Len(t, second.Body, 2)
	assert.Equal(t, []string{"2", "-0.4 dBmV"}, second.Body[1].Cells)

	// nested tables show up both inside their parent and on their own
	assert.Len(t, tables[2].Rows, 3)
	assert.Equal(t, []string{"nested"}, tables[3].Rows[0].Cells)
}

func TestParse_NoTables(t *testing.T) {
	tables, err := Parse(strings.NewReader("<html><body><p>Password:</p></body></html>"))
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestRow_Cell(t *testing.T) {
	r := Row{Cells: []string{"a", "b"}}
	v, ok := r.Cell(1)
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = r.Cell(2)
	assert.False(t, ok)
}
