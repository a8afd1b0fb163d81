// Package disasm decodes ARM64 instruction words. The debugger only needs
// "given 4 bytes, what is this instruction"; everything else about the
// decoder is somebody else's problem.
package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// Category is a coarse instruction class used by step-target inspection.
type Category int

const (
	CatOther Category = iota
	CatBranch
	CatLoadStore
	CatTrap
	CatSystem
)

func (c Category) String() string {
	switch c {
	case CatBranch:
		return "branch"
	case CatLoadStore:
		return "load-store"
	case CatTrap:
		return "trap"
	case CatSystem:
		return "system"
	}
	return "other"
}

// Instruction is one decoded instruction.
type Instruction struct {
	Addr     uint64
	Enc      uint32
	Mnemonic string
	Operands string
	Category Category
}

func (i Instruction) String() string {
	if i.Operands == "" {
		return i.Mnemonic
	}
	return i.Mnemonic + " " + i.Operands
}

// Decode decodes the 4-byte word at addr.
func Decode(word []byte, addr uint64) (Instruction, error) {
	if len(word) < 4 {
		return Instruction{}, fmt.Errorf("disasm: need 4 bytes, have %d", len(word))
	}
	inst, err := arm64asm.Decode(word[:4])
	if err != nil {
		return Instruction{}, fmt.Errorf("disasm: undecodable word at %#x: %w", addr, err)
	}

	text := arm64asm.GNUSyntax(inst)
	mnemonic, operands, _ := strings.Cut(text, " ")
	enc := uint32(word[0]) | uint32(word[1])<<8 | uint32(word[2])<<16 | uint32(word[3])<<24

	return Instruction{
		Addr:     addr,
		Enc:      enc,
		Mnemonic: mnemonic,
		Operands: operands,
		Category: categorize(inst.Op),
	}, nil
}

func categorize(op arm64asm.Op) Category {
	switch op {
	case arm64asm.B, arm64asm.BL, arm64asm.BR, arm64asm.BLR, arm64asm.RET,
		arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		return CatBranch
	case arm64asm.BRK, arm64asm.HLT, arm64asm.SVC, arm64asm.HVC, arm64asm.SMC:
		return CatTrap
	case arm64asm.MSR, arm64asm.MRS, arm64asm.ISB, arm64asm.DSB, arm64asm.DMB:
		return CatSystem
	}

	name := op.String()
	switch {
	case strings.HasPrefix(name, "LD"), strings.HasPrefix(name, "ST"):
		return CatLoadStore
	}
	return CatOther
}
