package dbg

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"mdbg.dev/cmd/internal/dbg/kern"
	"mdbg.dev/cmd/internal/dbg/logx"
	"mdbg.dev/cmd/internal/dbg/perm"
	"mdbg.dev/cmd/internal/dbg/session"
	"mdbg.dev/cmd/internal/dbg/sym"
	"mdbg.dev/cmd/internal/dbg/term"
)

// RunDebug attaches to a pid and drops into the interactive debugger.
func RunDebug(args []string) {
	var (
		argInit string
		argExe  string
		argLog  bool
	)
	dbgFlags := flag.NewFlagSet("debug", flag.ExitOnError)
	dbgFlags.StringVar(&argInit, "init", "", "initial command to run")
	dbgFlags.StringVar(&argExe, "exe", "", "path to the target binary for symbol lookup")
	dbgFlags.BoolVar(&argLog, "log", false, "log debugger internals to stderr")
	if err := dbgFlags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if argLog {
		logx.Enable()
	}

	if dbgFlags.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mdbg debug [flags] <pid>")
		os.Exit(1)
	}
	pid, err := strconv.Atoi(dbgFlags.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid '%s'\n", dbgFlags.Arg(0))
		os.Exit(1)
	}

	k, err := kern.Native()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitAttachFailed)
	}
	checker := perm.NewChecker(perm.HostEnvironment())

	var table *sym.Table
	if argExe != "" {
		if table, err = sym.Load(argExe); err != nil {
			fmt.Fprintln(os.Stderr, "warning:", err)
		}
	}

	opts := []session.Option{}
	if table != nil {
		opts = append(opts, session.WithResolver(table))
	}
	s := session.New(k, checker, opts...)

	if err := s.Attach(pid); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if argExe != "" {
			if reason := checker.DebugBlockedReason(argExe); reason != "" {
				fmt.Fprintln(os.Stderr, reason)
			}
		}
		code := ExitCode(err)
		if code == ExitAttachFailed && argExe != "" && checker.SIPBlocksPath(argExe) {
			code = ExitSIPBlocked
		}
		os.Exit(code)
	}

	st := setRawTerminal()
	defer st.Restore()

	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	var res term.Resolver
	if table != nil {
		res = table
	}
	t := term.New(screen, "(mdbg) ", term.DebuggerCommands(s, res, os.Stdout))
	if err := t.Run(argInit); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// RunCheckPermissions surfaces the three environment signals required for
// live debugging, each with its own remediation guidance.
func RunCheckPermissions(args []string) {
	checker := perm.NewChecker(perm.HostEnvironment())
	status := checker.Status()

	for _, sig := range perm.Signals(status) {
		mark := "ok"
		if !sig.OK {
			mark = "--"
		}
		fmt.Printf("[%s] %s\n", mark, sig.Name)
		if !sig.OK {
			fmt.Printf("     %s\n", sig.Remediation)
		}
	}
	fmt.Printf("\ncapability tier: %s\n", status.Tier())
	fmt.Printf("  static parsing: %v\n", status.CanParse())
	fmt.Printf("  disassembly:    %v\n", status.CanDisassemble())
	fmt.Printf("  live debugging: %v\n", status.CanDebug())
}

// ExitCode maps an attach error onto the documented process exit codes.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, kern.ErrProcessNotFound):
		return ExitProcessNotFound
	case errors.Is(err, perm.ErrBlockedBySIP):
		return ExitSIPBlocked
	case errors.Is(err, kern.ErrTargetNotDebuggable):
		return ExitTargetNotDebuggable
	case errors.Is(err, perm.ErrMissingEntitlement),
		errors.Is(err, perm.ErrDeveloperModeOff),
		errors.Is(err, perm.ErrPermissionDenied):
		return ExitPermissionDenied
	case errors.Is(err, kern.ErrAttachFailed), errors.Is(err, kern.ErrNotSupported):
		return ExitAttachFailed
	}
	return 1
}

func setRawTerminal() *term.State {
	if !term.IsTerminal(int(os.Stdout.Fd())) || !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "stdin and stdout must be terminals")
		os.Exit(1)
	}

	st, err := term.TerminalMode(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get terminal mode:", err)
		os.Exit(1)
	}
	return st
}
