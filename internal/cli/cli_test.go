package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcsa-query/internal/cursor"
)

var ordersFile = filepath.Join("..", "metadata", "testdata", "orders.yaml")

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--entities", ordersFile}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootRejectsUnknownFormat(t *testing.T) {
	_, err := run(t, "--format", "yaml", "entities")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestEntitiesText(t *testing.T) {
	out, err := run(t, "entities", "order")
	require.NoError(t, err)
	assert.Contains(t, out, "order (table order_table, key orderId)")
	assert.Contains(t, out, "default sort: -deliveryDate")
	assert.Contains(t, out, "customerName")
	assert.Contains(t, out, "warehouse.streetName")
}

func TestEntitiesJSON(t *testing.T) {
	out, err := run(t, "--format", "json", "entities")
	require.NoError(t, err)

	var got []EntitySummary
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	names := make([]string, len(got))
	for i, s := range got {
		names[i] = s.Name
	}
	assert.ElementsMatch(t, []string{"address", "customer", "order"}, names)
}

func TestEntitiesUnknown(t *testing.T) {
	_, err := run(t, "entities", "invoice")
	require.Error(t, err)
}

func TestCompileText(t *testing.T) {
	out, err := run(t, "compile", "order", "customerName=Acme&limit=5&count=true")
	require.NoError(t, err)
	assert.Contains(t, out, "-- mysql keyset page, size 5")
	assert.Contains(t, out, "FROM `order_table`")
	assert.Contains(t, out, "`customer_table`")
	assert.Contains(t, out, "LIMIT 6")
	assert.Contains(t, out, "SELECT COUNT(*)")
	assert.Contains(t, out, `"Acme"`)
}

func TestCompileJSONDialect(t *testing.T) {
	out, err := run(t, "--format", "json", "--dialect", "postgres", "compile", "order", "?limit=2")
	require.NoError(t, err)

	var got CompileResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "order", got.Entity)
	assert.Equal(t, "postgres", got.Dialect)
	assert.Equal(t, 2, got.PageSize)
	assert.Contains(t, got.Select.SQL, `"order_table"`)
	assert.Nil(t, got.Count)
}

func TestCompileRejectsBadRequest(t *testing.T) {
	_, err := run(t, "compile", "order", "colour=red")
	require.Error(t, err)

	_, err = run(t, "--dialect", "oracle", "compile", "order")
	require.Error(t, err)

	_, err = run(t, "compile", "order", "offset=10")
	require.Error(t, err, "offset needs --allow-offset")

	_, err = run(t, "--allow-offset", "compile", "order", "offset=10")
	require.NoError(t, err)
}

func TestCompileJoinsSeparateArguments(t *testing.T) {
	out, err := run(t, "compile", "order", "limit=3", "sort=orderId")
	require.NoError(t, err)
	assert.Contains(t, out, "size 3")
	assert.Contains(t, out, "ORDER BY `order_table`.`order_id` ASC")
}

func TestCursorDecode(t *testing.T) {
	total := int64(42)
	token, err := cursor.NewCodec([]byte("s3cret")).Encode(cursor.Cursor{
		Entity:   "order",
		Mode:     cursor.ModeKeyset,
		Sort:     []cursor.SortKey{{Field: "deliveryDate", Descending: true}, {Field: "orderId"}},
		Values:   cursor.EncodeValues([]any{nil, int64(7)}),
		PageSize: 10,
		Count:    true,
		Total:    &total,
	})
	require.NoError(t, err)

	out, err := run(t, "--cursor-secret", "s3cret", "cursor", "decode", token)
	require.NoError(t, err)
	assert.Contains(t, out, "entity:    order")
	assert.Contains(t, out, "sort:      -deliveryDate,orderId")
	assert.Contains(t, out, `position:  [NULL, "7"]`)
	assert.Contains(t, out, "total:     42")

	_, err = run(t, "--cursor-secret", "other", "cursor", "decode", token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}
