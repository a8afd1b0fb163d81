package sym

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testTable() *Table {
	return NewTable([]Symbol{
		{Name: "_start", Addr: 0x100003f00},
		{Name: "_main", Addr: 0x100003f40},
		{Name: "_helper", Addr: 0x100003fa0},
	})
}

var symbolAtTests = []struct {
	addr uint64
	want string
	ok   bool
}{
	{0x100003eff, "", false}, // before the first symbol
	{0x100003f00, "_start", true},
	{0x100003f3f, "_start", true},
	{0x100003f40, "_main", true},
	{0x100003f44, "_main", true},
	{0x100003fa0, "_helper", true},
	{0x200000000, "_helper", true}, // past the last symbol: containing lookup
}

func TestSymbolAt(t *testing.T) {
	tab := testTable()
	for i, test := range symbolAtTests {
		name, ok := tab.SymbolAt(test.addr)
		assert.Equal(t, test.ok, ok, "test #%d", i)
		assert.Equal(t, test.want, name, "test #%d", i)
	}

	// Cached answers match uncached ones.
	for i, test := range symbolAtTests {
		name, ok := tab.SymbolAt(test.addr)
		assert.Equal(t, test.ok, ok, "cached test #%d", i)
		assert.Equal(t, test.want, name, "cached test #%d", i)
	}
}

func TestAddrOf(t *testing.T) {
	tab := testTable()

	addr, ok := tab.AddrOf("_main")
	assert.True(t, ok)
	assert.Equal(t, uint64(0x100003f40), addr)

	_, ok = tab.AddrOf("_missing")
	assert.False(t, ok)
}

func TestSlide(t *testing.T) {
	tab := testTable()
	tab.SetSlide(0x1000)

	addr, ok := tab.AddrOf("_main")
	assert.True(t, ok)
	assert.Equal(t, uint64(0x100004f40), addr)

	name, ok := tab.SymbolAt(0x100004f40)
	assert.True(t, ok)
	assert.Equal(t, "_main", name)

	// Pre-slide addresses no longer resolve to the slid symbols.
	name, ok = tab.SymbolAt(0x100003eff + 0x1000)
	assert.False(t, ok)
	assert.Equal(t, "", name)
}

func TestSlidePurgesCache(t *testing.T) {
	tab := testTable()

	name, _ := tab.SymbolAt(0x100003f40)
	assert.Equal(t, "_main", name)

	tab.SetSlide(0x40)
	name, _ = tab.SymbolAt(0x100003f40)
	assert.Equal(t, "_start", name, "cached pre-slide answer must not survive")
}

func TestEmptyTable(t *testing.T) {
	tab := NewTable(nil)
	_, ok := tab.SymbolAt(0x1000)
	assert.False(t, ok)
	_, ok = tab.AddrOf("_main")
	assert.False(t, ok)
}
