package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/openxen/xendbg/pkg/attachment"
	"github.com/openxen/xendbg/pkg/xdbgerr"
)

// replfunc is one REPL command's body: everything a command needs to act
// is the attachment it's driving, the variable store shared across
// commands, and the raw text following the command word.
type replfunc func(state *attachment.State, vars *VariableStore, args string) error

type replCommand struct {
	name    string
	aliases []string
	helpMsg string
	fn      replfunc
}

// repl holds the command table and completion trie for one interactive
// session, mirrored on pkg/terminal.Term but scoped to this engine's much
// smaller command surface.
type repl struct {
	line     *liner.State
	commands []replCommand
	names    *trie.Trie
	stdout   *os.File
	vars     *VariableStore
}

func newRepl(vars *VariableStore) *repl {
	r := &repl{
		line:   liner.NewLiner(),
		names:  trie.New(),
		stdout: os.Stdout,
		vars:   vars,
	}
	r.commands = []replCommand{
		{"break", []string{"b"}, "break <addr>  Set a breakpoint at a guest virtual address.", cmdBreak},
		{"delete", []string{"d"}, "delete <addr>  Remove the breakpoint at addr.", cmdDelete},
		{"breakpoints", []string{"bps"}, "breakpoints  List active breakpoints.", cmdBreakpoints},
		{"continue", []string{"c"}, "continue  Resume the guest until the next breakpoint hit.", cmdContinue},
		{"step", []string{"s"}, "step  Single-step one instruction.", cmdStep},
		{"regs", nil, "regs  Print the current VCPU's instruction pointer, stack pointer and flags.", cmdRegs},
		{"set", nil, "set <name> <hex>  Set a debugger variable.", cmdSet},
		{"unset", nil, "unset <name>  Delete a debugger variable.", cmdUnset},
		{"print", []string{"p"}, "print <name>  Print a debugger variable.", cmdPrint},
		{"symbol", []string{"sym"}, "symbol <name>  Resolve a symbol name to its address.", cmdSymbol},
		{"exit", []string{"quit", "q"}, "exit  Detach and quit.", nil},
		{"help", []string{"h"}, "help  List commands.", nil},
	}
	for _, c := range r.commands {
		r.names.Add(c.name, nil)
		for _, a := range c.aliases {
			r.names.Add(a, nil)
		}
	}
	r.line.SetCompleter(r.complete)
	return r
}

// complete completes the command word in the first position, and a
// variable name in argument position after "set", "print"/"p", or
// "unset" — the three commands whose argument is a variable name.
func (r *repl) complete(line string) []string {
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return r.names.PrefixSearch(line)
	}
	switch line[:sp] {
	case "set", "print", "p", "unset":
		prefix := line[:sp+1]
		word := strings.TrimPrefix(line, prefix)
		var out []string
		for _, name := range r.vars.Names() {
			if strings.HasPrefix(name, word) {
				out = append(out, prefix+name)
			}
		}
		return out
	default:
		return nil
	}
}

func (r *repl) find(word string) *replCommand {
	for i := range r.commands {
		c := &r.commands[i]
		if c.name == word {
			return c
		}
		for _, a := range c.aliases {
			if a == word {
				return c
			}
		}
	}
	return nil
}

func (r *repl) printHelp() {
	for _, c := range r.commands {
		fmt.Fprintln(r.colorOut(), c.helpMsg)
	}
}

// colorOut returns a colorable writer when stdout is a real terminal, the
// way pkg/terminal picks between a raw file and an ANSI-translating
// wrapper depending on isatty.IsTerminal.
func (r *repl) colorOut() io.Writer {
	if isatty.IsTerminal(r.stdout.Fd()) {
		return colorable.NewColorable(r.stdout)
	}
	return r.stdout
}

// runREPL drives the interactive command loop against one attachment
// until "exit" or EOF.
func runREPL(state *attachment.State, vars *VariableStore) error {
	r := newRepl(vars)
	defer r.line.Close()
	defer vars.Clear()

	fmt.Fprintf(r.colorOut(), "attached to domain %d\n", state.Domain.DomID())
	for {
		text, err := r.line.Prompt("(xendbg) ")
		if err != nil {
			break
		}
		r.line.AppendHistory(text)

		fields, err := argv.Argv(text, nil, nil)
		if err != nil || len(fields) == 0 || len(fields[0]) == 0 {
			continue
		}
		word := fields[0][0]
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), word))

		if word == "exit" || word == "quit" || word == "q" {
			break
		}
		if word == "help" || word == "h" {
			r.printHelp()
			continue
		}

		cmd := r.find(word)
		if cmd == nil {
			fmt.Fprintf(r.colorOut(), "unknown command %q, try help\n", word)
			continue
		}
		if err := cmd.fn(state, vars, rest); err != nil {
			fmt.Fprintf(r.colorOut(), "error: %v\n", err)
		}
	}
	return nil
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, 64)
}

func cmdBreak(state *attachment.State, vars *VariableStore, args string) error {
	addr, err := resolveAddrExpr(state, args)
	if err != nil {
		return err
	}
	// Create requires the guest already paused. The REPL only ever
	// regains the prompt with the guest paused, but Pause is idempotent,
	// so pausing here costs nothing and keeps this call site honest on
	// its own rather than trusting that invariant silently.
	if err := state.Domain.Pause(); err != nil {
		return err
	}
	id, err := state.Breakpoints.Create(addr)
	if err != nil {
		return err
	}
	fmt.Printf("breakpoint %d set at 0x%x\n", id, addr)
	return nil
}

func cmdDelete(state *attachment.State, vars *VariableStore, args string) error {
	addr, err := resolveAddrExpr(state, args)
	if err != nil {
		return err
	}
	bp, ok := state.Breakpoints.FindByAddress(addr)
	if !ok {
		return fmt.Errorf("no breakpoint at 0x%x", addr)
	}
	if err := state.Domain.Pause(); err != nil {
		return err
	}
	return state.Breakpoints.Delete(bp.ID)
}

func cmdBreakpoints(state *attachment.State, vars *VariableStore, args string) error {
	for _, bp := range state.Breakpoints.All() {
		fmt.Printf("%d: 0x%x\n", bp.ID, bp.Address)
	}
	return nil
}

func cmdContinue(state *attachment.State, vars *VariableStore, args string) error {
	ctx := context.Background()
	if err := state.Controller.Continue(ctx); err != nil {
		return err
	}
	hit, err := state.Controller.PollForHit(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("stopped at 0x%x\n", hit)
	return nil
}

func cmdStep(state *attachment.State, vars *VariableStore, args string) error {
	hit, err := state.Controller.SingleStep(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("stopped at 0x%x\n", hit)
	return nil
}

func cmdRegs(state *attachment.State, vars *VariableStore, args string) error {
	ctx, err := state.Domain.GetCPUContext(state.VCPU())
	if err != nil {
		return err
	}
	fmt.Printf("rip=0x%x rsp=0x%x rflags=0x%x\n", ctx.IP(), ctx.SP(), ctx.Flags())
	return nil
}

func cmdSet(state *attachment.State, vars *VariableStore, args string) error {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return fmt.Errorf("usage: set <name> <hex value>")
	}
	val, err := parseAddr(fields[1])
	if err != nil {
		return err
	}
	vars.Set(fields[0], val)
	return nil
}

func cmdUnset(state *attachment.State, vars *VariableStore, args string) error {
	name := strings.TrimSpace(args)
	if name == "" {
		return fmt.Errorf("usage: unset <name>")
	}
	vars.Delete(name)
	return nil
}

func cmdPrint(state *attachment.State, vars *VariableStore, args string) error {
	name := strings.TrimSpace(args)
	val, err := vars.Get(name)
	if err != nil {
		return err
	}
	fmt.Printf("%s = 0x%x\n", name, val)
	return nil
}

func cmdSymbol(state *attachment.State, vars *VariableStore, args string) error {
	name := strings.TrimSpace(args)
	if state.Symbols == nil {
		return fmt.Errorf("no symbols loaded, pass --symbols on attach")
	}
	addr, err := state.Symbols.Resolve(name)
	if err != nil {
		return err
	}
	fmt.Printf("%s = 0x%x\n", name, addr)
	return nil
}

// resolveAddrExpr accepts either a bare hex address or the name of a
// symbol already loaded into state.Symbols, so "break main" works
// wherever "break 0x401000" does.
func resolveAddrExpr(state *attachment.State, args string) (uint64, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return 0, fmt.Errorf("missing address or symbol name")
	}
	if addr, err := parseAddr(args); err == nil {
		return addr, nil
	}
	if state.Symbols != nil {
		if addr, err := state.Symbols.Resolve(args); err == nil {
			return addr, nil
		}
	}
	return 0, &xdbgerr.NoSuchSymbol{Name: args}
}
