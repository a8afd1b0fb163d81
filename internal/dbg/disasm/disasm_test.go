package disasm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var decodeTests = []struct {
	enc      uint32
	mnemonic string
	category Category
}{
	{0xd503201f, "nop", CatOther},
	{0xd4200000, "brk", CatTrap}, // brk #0
	{0xd4000001, "svc", CatTrap},
	{0xd65f03c0, "ret", CatBranch},
	{0x14000001, "b", CatBranch},
	{0x94000001, "bl", CatBranch},
	{0xb4000040, "cbz", CatBranch},
	{0xf9400020, "ldr", CatLoadStore},
	{0xf9000020, "str", CatLoadStore},
	{0xa9bf7bfd, "stp", CatLoadStore},
	{0xd5033fdf, "isb", CatSystem},
	{0x91000421, "add", CatOther},
	{0xaa0103e0, "mov", CatOther},
}

func TestDecode(t *testing.T) {
	for i, test := range decodeTests {
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], test.enc)

		inst, err := Decode(word[:], 0x100003f40)
		require.NoError(t, err, "test #%d", i)
		assert.Equal(t, test.mnemonic, inst.Mnemonic, "test #%d", i)
		assert.Equal(t, test.category, inst.Category, "test #%d: %s", i, inst.Mnemonic)
		assert.Equal(t, test.enc, inst.Enc, "test #%d", i)
		assert.Equal(t, uint64(0x100003f40), inst.Addr, "test #%d", i)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := Decode([]byte{0x1f, 0x20}, 0x1000)
	assert.Error(t, err)
}

func TestDecodeInvalidWord(t *testing.T) {
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], 0x00000000) // permanently undefined
	_, err := Decode(word[:], 0x1000)
	assert.Error(t, err)
}

func TestInstructionString(t *testing.T) {
	assert.Equal(t, "nop", Instruction{Mnemonic: "nop"}.String())
	assert.Equal(t, "ldr x0, [x1]", Instruction{Mnemonic: "ldr", Operands: "x0, [x1]"}.String())
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "branch", CatBranch.String())
	assert.Equal(t, "trap", CatTrap.String())
	assert.Equal(t, "load-store", CatLoadStore.String())
	assert.Equal(t, "system", CatSystem.String())
	assert.Equal(t, "other", CatOther.String())
}
