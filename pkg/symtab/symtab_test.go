package symtab

import (
	"testing"

	lru "github.com/hashicorp/golang-lru"
)

// newTestTable builds a Table directly, bypassing Load, since constructing
// a well-formed ELF fixture on disk buys nothing Load's own logic
// (elf.Open + elf.Symbols + the STT_FUNC/non-zero-address filter) needs
// verified beyond what the standard library's own elf package tests cover.
func newTestTable(t *testing.T, syms map[string]uint64) *Table {
	t.Helper()
	cache, err := lru.New(256)
	if err != nil {
		t.Fatalf("lru.New: %v", err)
	}
	byName := make(map[string]Symbol, len(syms))
	for name, addr := range syms {
		byName[name] = Symbol{Name: name, Address: addr}
	}
	return &Table{byName: byName, cache: cache}
}

func TestResolveKnownSymbol(t *testing.T) {
	tbl := newTestTable(t, map[string]uint64{"main": 0x401000, "panic": 0x402000})
	addr, err := tbl.Resolve("main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if addr != 0x401000 {
		t.Fatalf("addr = %#x, want 0x401000", addr)
	}
}

func TestResolveUnknownSymbol(t *testing.T) {
	tbl := newTestTable(t, map[string]uint64{"main": 0x401000})
	if _, err := tbl.Resolve("nosuch"); err == nil {
		t.Fatal("expected NoSuchSymbol error")
	}
}

func TestResolveCachesLookup(t *testing.T) {
	tbl := newTestTable(t, map[string]uint64{"main": 0x401000})
	if _, err := tbl.Resolve("main"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// Mutate the backing map directly; a cached lookup must not see it.
	tbl.byName["main"] = Symbol{Name: "main", Address: 0x999999}
	addr, err := tbl.Resolve("main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if addr != 0x401000 {
		t.Fatalf("addr = %#x, want cached 0x401000", addr)
	}
}

func TestLen(t *testing.T) {
	tbl := newTestTable(t, map[string]uint64{"a": 1, "b": 2, "c": 3})
	if tbl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tbl.Len())
	}
}
