//go:build darwin || linux

package term

import (
	"golang.org/x/sys/unix"
)

// State holds a terminal's mode before it was switched to raw.
type State struct {
	t  unix.Termios
	fd int
}

func IsTerminal(fd int) bool {
	_, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	return err == nil
}

// TerminalMode switches fd to raw mode and returns the prior state.
func TerminalMode(fd int) (*State, error) {
	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, err
	}
	origState := &State{t: *t, fd: fd}

	raw := *t
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG
	raw.Cflag |= unix.CS8
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &raw); err != nil {
		return nil, err
	}

	return origState, nil
}

func (s *State) Restore() error {
	return unix.IoctlSetTermios(s.fd, ioctlSetTermios, &s.t)
}
