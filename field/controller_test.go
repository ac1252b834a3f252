package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFieldRejectsReservedName(t *testing.T) {
	c := NewController()
	err := c.AddField(&Field{Name: "enabled", Type: "bool"})
	require.Error(t, err)
	var rn *ErrReservedName
	require.ErrorAs(t, err, &rn)
}

func TestGetUndefinedByDefault(t *testing.T) {
	c := NewController()
	require.NoError(t, c.AddField(&Field{Name: "x", Type: "string"}))
	_, ok := c.Get("x")
	assert.False(t, ok)
	assert.True(t, IsUndefined(c.GetOr("x")))
}

func TestSetFiresObserver(t *testing.T) {
	c := NewController()
	require.NoError(t, c.AddField(&Field{Name: "x", Type: "string"}))
	var seen []interface{}
	c.OnAttributeChange(func(name string, old, new interface{}) {
		seen = append(seen, new)
	}, "x")
	c.Set("x", "a")
	c.Set("x", "b")
	assert.Equal(t, []interface{}{"a", "b"}, seen)
}

func TestSuppressedEditsCoalesceToOneNotification(t *testing.T) {
	c := NewController()
	require.NoError(t, c.AddField(&Field{Name: "x", Type: "string"}))
	calls := 0
	var lastOld, lastNew interface{}
	c.OnAttributeChange(func(name string, old, new interface{}) {
		calls++
		lastOld, lastNew = old, new
	}, "x")

	c.BeginEdit()
	c.BeginEdit() // nested suppression
	c.Set("x", "a")
	c.Set("x", "b")
	c.Set("x", "c")
	c.EndEdit() // still suppressed, outer level remains
	assert.Equal(t, 0, calls)
	c.EndEdit() // releases
	assert.Equal(t, 1, calls)
	assert.True(t, IsUndefined(lastOld))
	assert.Equal(t, "c", lastNew)
}

func TestTypesCompatible(t *testing.T) {
	assert.True(t, TypesCompatible("any", "string"))
	assert.True(t, TypesCompatible("string", "any"))
	assert.True(t, TypesCompatible("string", "string"))
	assert.False(t, TypesCompatible("string", "int"))
	assert.True(t, TypesCompatible(ListOf("string"), "string"))
	assert.True(t, TypesCompatible("string", ListOf("string")))
	assert.True(t, TypesCompatible(ListOf("string"), ListOf("string")))
	assert.False(t, TypesCompatible(ListOf("string"), ListOf("int")))
}

func TestExportImportDict(t *testing.T) {
	c := NewController()
	require.NoError(t, c.AddField(&Field{Name: "x", Type: "string"}))
	require.NoError(t, c.AddField(&Field{Name: "hidden", Type: "string", Hidden: true}))
	c.Set("x", "v")
	c.Set("hidden", "h")
	dict := c.ExportDict()
	assert.Equal(t, map[string]interface{}{"x": "v"}, dict)

	c2 := NewController()
	require.NoError(t, c2.AddField(&Field{Name: "x", Type: "string"}))
	c2.ImportDict(map[string]interface{}{"x": "v2", "unknown": 1})
	v, ok := c2.Get("x")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}
