// Package sym resolves addresses to symbol names and back. The debugger
// treats binary parsing as a black box; this is the whole surface it
// consumes.
package sym

import (
	"debug/macho"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"
)

const cacheSize = 4096

// Symbol is one named address from the target binary.
type Symbol struct {
	Name string
	Addr uint64
}

// Table answers symbol queries for one loaded image. Address lookups are
// cached; exception handling asks for the same few addresses repeatedly.
type Table struct {
	syms   []Symbol // sorted by Addr
	byName map[string]uint64
	base   uint64 // slide applied to all addresses
	cache  *lru.Cache
}

// NewTable builds a table from an explicit symbol list. Used directly by
// tests; Load is the production path.
func NewTable(syms []Symbol) *Table {
	t := &Table{
		syms:   make([]Symbol, len(syms)),
		byName: make(map[string]uint64, len(syms)),
	}
	copy(t.syms, syms)
	sort.Slice(t.syms, func(i, j int) bool { return t.syms[i].Addr < t.syms[j].Addr })
	for _, s := range t.syms {
		t.byName[s.Name] = s.Addr
	}
	t.cache, _ = lru.New(cacheSize)
	return t
}

// Load reads the symbol table of the Mach-O image at path.
func Load(path string) (*Table, error) {
	f, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sym: %w", err)
	}
	defer f.Close()

	if f.Symtab == nil {
		return nil, fmt.Errorf("sym: %s has no symbol table", path)
	}

	var syms []Symbol
	for _, s := range f.Symtab.Syms {
		if s.Name == "" || s.Value == 0 {
			continue
		}
		syms = append(syms, Symbol{Name: s.Name, Addr: s.Value})
	}
	return NewTable(syms), nil
}

// SetSlide records the load-address slide of the running image. All
// queries account for it.
func (t *Table) SetSlide(slide uint64) {
	t.base = slide
	t.cache.Purge()
}

// SymbolAt returns the name of the symbol containing addr.
func (t *Table) SymbolAt(addr uint64) (string, bool) {
	if v, ok := t.cache.Get(addr); ok {
		name := v.(string)
		return name, name != ""
	}
	name, ok := t.lookup(addr)
	t.cache.Add(addr, name)
	return name, ok
}

func (t *Table) lookup(addr uint64) (string, bool) {
	file := addr - t.base
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Addr > file })
	if i == 0 {
		return "", false
	}
	return t.syms[i-1].Name, true
}

// AddrOf returns the runtime address of the named symbol.
func (t *Table) AddrOf(name string) (uint64, bool) {
	addr, ok := t.byName[name]
	if !ok {
		return 0, false
	}
	return addr + t.base, true
}
