// Package symtab is a read-only symbol table provider: only the symbol
// table of an ELF-like guest binary is consumed, and only function-like,
// non-zero-address entries are retained. Grounded on delve's
// pkg/elfwriter, the one place delve reads/writes raw ELF structures
// directly with the standard library's debug/elf rather than a
// third-party ELF library (see DESIGN.md).
package symtab

import (
	"debug/elf"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/openxen/xendbg/pkg/xdbgerr"
)

// Symbol is an immutable name/address pair, loaded once and never
// mutated.
type Symbol struct {
	Name    string
	Address uint64
}

// Table is a symbol table loaded from one guest binary. Lookups are
// cached in an LRU (hashicorp/golang-lru, part of delve's own go.mod)
// since a single attachment's REPL or remote client tends to re-resolve
// the same handful of function names repeatedly (the REPL's break, delete
// and symbol commands) over the life of an attachment.
type Table struct {
	byName map[string]Symbol
	cache  *lru.Cache
}

// Load reads path's ELF symbol table and retains only entries whose type
// is function-like (STT_FUNC) and whose address is non-zero.
func Load(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("symtab: open %s: %w", path, err)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("symtab: read symbols: %w", err)
	}

	t := &Table{byName: make(map[string]Symbol)}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		if s.Value == 0 {
			continue
		}
		t.byName[s.Name] = Symbol{Name: s.Name, Address: s.Value}
	}

	cache, err := lru.New(256)
	if err != nil {
		return nil, err
	}
	t.cache = cache
	return t, nil
}

// Resolve looks a symbol up by name, failing with NoSuchSymbol if
// absent.
func (t *Table) Resolve(name string) (uint64, error) {
	if v, ok := t.cache.Get(name); ok {
		return v.(uint64), nil
	}
	sym, ok := t.byName[name]
	if !ok {
		return 0, &xdbgerr.NoSuchSymbol{Name: name}
	}
	t.cache.Add(name, sym.Address)
	return sym.Address, nil
}

// Len returns the number of retained symbols.
func (t *Table) Len() int { return len(t.byName) }
