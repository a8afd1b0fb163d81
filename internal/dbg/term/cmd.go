package term

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"mdbg.dev/cmd/internal/dbg/bp"
	"mdbg.dev/cmd/internal/dbg/session"
)

type command struct {
	aliases []string
	help    string
	fn      func(args []string) error
}

// Resolver maps between symbol names and addresses for the break and
// disas commands.
type Resolver interface {
	AddrOf(name string) (uint64, bool)
	SymbolAt(addr uint64) (string, bool)
}

// Commands binds the interactive command set to a debug session.
type Commands struct {
	cmds []command
	s    *session.Session
	res  Resolver
	out  io.Writer
}

func DebuggerCommands(s *session.Session, res Resolver, out io.Writer) *Commands {
	c := &Commands{s: s, res: res, out: out}
	c.cmds = append(c.cmds,
		command{
			aliases: []string{"continue", "c"},
			help:    "resume execution until the next trap",
			fn:      c.cont,
		},
		command{
			aliases: []string{"step", "s"},
			help:    "execute one instruction",
			fn:      c.step,
		},
		command{
			aliases: []string{"break", "b"},
			help:    "break <addr|symbol> - set a breakpoint",
			fn:      c.setBreak,
		},
		command{
			aliases: []string{"delete", "d"},
			help:    "delete <id> - remove a breakpoint",
			fn:      c.deleteBreak,
		},
		command{
			aliases: []string{"enable"},
			help:    "enable <id> - re-enable a breakpoint",
			fn:      c.enableBreak,
		},
		command{
			aliases: []string{"disable"},
			help:    "disable <id> - disable a breakpoint",
			fn:      c.disableBreak,
		},
		command{
			aliases: []string{"breakpoints", "bp"},
			help:    "list breakpoints",
			fn:      c.listBreaks,
		},
		command{
			aliases: []string{"watch", "w"},
			help:    "watch <addr> <1|2|4|8> [r|w|rw] - record a watchpoint",
			fn:      c.watch,
		},
		command{
			aliases: []string{"watchpoints", "wp"},
			help:    "list watchpoints",
			fn:      c.listWatches,
		},
		command{
			aliases: []string{"regs", "r"},
			help:    "print the current thread's registers",
			fn:      c.regs,
		},
		command{
			aliases: []string{"examine", "x"},
			help:    "examine <addr> [n] - dump n bytes of memory",
			fn:      c.examine,
		},
		command{
			aliases: []string{"disas", "di"},
			help:    "disas [addr] [n] - disassemble n instructions",
			fn:      c.disas,
		},
		command{
			aliases: []string{"region"},
			help:    "region <addr> - show the mapped region containing addr",
			fn:      c.region,
		},
		command{
			aliases: []string{"threads"},
			help:    "list threads",
			fn:      c.threads,
		},
		command{
			aliases: []string{"detach"},
			help:    "detach from the target",
			fn:      c.detach,
		},
		command{
			aliases: []string{"help", "h"},
			help:    "print this list",
			fn:      c.help,
		},
		command{
			aliases: []string{"exit", "quit", "q"},
			help:    "detach and exit",
			fn:      c.exit,
		},
	)
	return c
}

func (c *Commands) Process(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return fmt.Errorf("empty command")
	}

	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			if args[0] == alias {
				return cmd.fn(args[1:])
			}
		}
	}
	return fmt.Errorf("unknown command '%s'", args[0])
}

func (c *Commands) Close() error {
	if c.s.State().Kind == session.Detached {
		return nil
	}
	return c.s.Detach()
}

func (c *Commands) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format+"\r\n", args...)
}

// parseAddr accepts hex (0x-prefixed), decimal, or a symbol name.
func (c *Commands) parseAddr(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	if addr, err := strconv.ParseUint(s, 10, 64); err == nil {
		return addr, nil
	}
	if c.res != nil {
		if addr, ok := c.res.AddrOf(s); ok {
			return addr, nil
		}
	}
	return 0, fmt.Errorf("cannot resolve '%s' to an address", s)
}

func (c *Commands) exit(args []string) error {
	return io.EOF
}

func (c *Commands) detach(args []string) error {
	if err := c.s.Detach(); err != nil {
		return err
	}
	c.printf("detached")
	return nil
}

func (c *Commands) cont(args []string) error {
	if err := c.s.Continue(); err != nil {
		return err
	}
	ev, err := c.s.WaitForStop(0)
	if err != nil {
		return err
	}
	if ev != nil {
		c.printf("%s: %s", ev.Kind, c.s.State())
	}
	return nil
}

func (c *Commands) step(args []string) error {
	if err := c.s.Step(); err != nil {
		return err
	}
	c.printf("%s", c.s.State())
	return nil
}

func (c *Commands) setBreak(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: break <addr|symbol>")
	}
	addr, err := c.parseAddr(args[0])
	if err != nil {
		return err
	}
	var symbol string
	if _, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 64); err != nil {
		symbol = args[0]
	}
	id, err := c.s.SetBreakpoint(addr, symbol)
	if err != nil {
		return err
	}
	c.printf("breakpoint %d at %#x", id, addr)
	return nil
}

func (c *Commands) deleteBreak(args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if err := c.s.RemoveBreakpoint(id); err != nil {
		return err
	}
	c.printf("breakpoint %d removed", id)
	return nil
}

func (c *Commands) enableBreak(args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	return c.s.Breakpoints().Enable(id)
}

func (c *Commands) disableBreak(args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	return c.s.Breakpoints().Disable(id)
}

func (c *Commands) listBreaks(args []string) error {
	bps := c.s.Breakpoints().List()
	if len(bps) == 0 {
		c.printf("no breakpoints")
		return nil
	}
	for _, b := range bps {
		state := "enabled"
		if !b.Enabled {
			state = "disabled"
		}
		label := ""
		if b.Symbol != "" {
			label = " (" + b.Symbol + ")"
		}
		c.printf("%3d  %#016x%s  %s  hits=%d", b.ID, b.Addr, label, state, b.HitCount)
	}
	return nil
}

func (c *Commands) watch(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: watch <addr> <1|2|4|8> [r|w|rw]")
	}
	addr, err := c.parseAddr(args[0])
	if err != nil {
		return err
	}
	size, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid size '%s'", args[1])
	}
	kind := bp.WatchWrite
	if len(args) > 2 {
		switch args[2] {
		case "r":
			kind = bp.WatchRead
		case "w":
			kind = bp.WatchWrite
		case "rw":
			kind = bp.WatchReadWrite
		default:
			return fmt.Errorf("invalid access kind '%s'", args[2])
		}
	}
	id, err := c.s.Breakpoints().AddWatch(addr, size, kind, "")
	if err != nil {
		return err
	}
	c.printf("watchpoint %d at %#x (%d bytes, %s)", id, addr, size, kind)
	return nil
}

func (c *Commands) listWatches(args []string) error {
	wps := c.s.Breakpoints().Watchpoints()
	if len(wps) == 0 {
		c.printf("no watchpoints")
		return nil
	}
	for _, w := range wps {
		c.printf("%3d  %#016x  %d bytes  %s  hits=%d", w.ID, w.Addr, w.Size, w.Kind, w.HitCount)
	}
	return nil
}

func (c *Commands) regs(args []string) error {
	th := c.s.CurrentThread()
	t, err := c.s.Registers(th)
	if err != nil {
		return err
	}
	for i := 0; i < 29; i++ {
		c.printf("x%-3d %#016x", i, t.Regs.X[i])
	}
	c.printf("fp   %#016x", t.Regs.FP)
	c.printf("lr   %#016x", t.Regs.LR)
	c.printf("sp   %#016x", t.Regs.SP)
	c.printf("pc   %#016x", t.Regs.PC)
	c.printf("cpsr %#08x", t.Regs.CPSR)
	return nil
}

func (c *Commands) examine(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: examine <addr> [n]")
	}
	addr, err := c.parseAddr(args[0])
	if err != nil {
		return err
	}
	size := 64
	if len(args) > 1 {
		if size, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("invalid length '%s'", args[1])
		}
	}
	data, err := c.s.ReadMemory(addr, size)
	if err != nil {
		return err
	}
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		var hex strings.Builder
		for _, b := range data[off:end] {
			fmt.Fprintf(&hex, "%02x ", b)
		}
		c.printf("%#016x  %s", addr+uint64(off), hex.String())
	}
	return nil
}

func (c *Commands) disas(args []string) error {
	var addr uint64
	var err error
	if len(args) > 0 {
		if addr, err = c.parseAddr(args[0]); err != nil {
			return err
		}
	} else {
		t, err := c.s.Registers(c.s.CurrentThread())
		if err != nil {
			return err
		}
		addr = t.Regs.PC
	}
	count := 8
	if len(args) > 1 {
		if count, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("invalid count '%s'", args[1])
		}
	}
	insts, err := c.s.Disassemble(addr, count)
	if err != nil {
		return err
	}
	if c.res != nil {
		if name, ok := c.res.SymbolAt(addr); ok {
			c.printf("%s:", name)
		}
	}
	for _, inst := range insts {
		c.printf("%#016x  %08x  %s", inst.Addr, inst.Enc, inst)
	}
	return nil
}

func (c *Commands) region(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: region <addr>")
	}
	addr, err := c.parseAddr(args[0])
	if err != nil {
		return err
	}
	r, err := c.s.Region(addr)
	if err != nil {
		return err
	}
	shared := ""
	if r.Shared {
		shared = " shared"
	}
	c.printf("%#016x-%#016x %s (max %s)%s", r.Base, r.Base+r.Size, r.Prot, r.MaxProt, shared)
	return nil
}

func (c *Commands) threads(args []string) error {
	ths := c.s.Threads()
	if len(ths) == 0 {
		return fmt.Errorf("no threads")
	}
	current := c.s.CurrentThread()
	for _, th := range ths {
		marker := " "
		if th == current {
			marker = "*"
		}
		c.printf("%s thread %d", marker, th)
	}
	return nil
}

func (c *Commands) help(args []string) error {
	for _, cmd := range c.cmds {
		c.printf("%-14s %s", strings.Join(cmd.aliases, ", "), cmd.help)
	}
	return nil
}

func parseID(args []string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("breakpoint id required")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid breakpoint id '%s'", args[0])
	}
	return id, nil
}
