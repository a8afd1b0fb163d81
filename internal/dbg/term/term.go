package term

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

const (
	keyCtrlC     = 3
	keyCtrlD     = 4
	keyEscape    = 27
	keyBackspace = 127

	historyMax = 200
)

var (
	escRed   = []byte{keyEscape, '[', '3', '1', 'm'}
	escReset = []byte{keyEscape, '[', '0', 'm'}

	keyUp     = []byte{keyEscape, '[', 'A'}
	keyDown   = []byte{keyEscape, '[', 'B'}
	keyLeft   = []byte{keyEscape, '[', 'D'}
	keyRight  = []byte{keyEscape, '[', 'C'}
	keyHome   = []byte{keyEscape, '[', 'H'}
	keyEnd    = []byte{keyEscape, '[', 'F'}
	keyDelete = []byte{keyEscape, '[', '3', '~'}

	crlf = []byte{'\r', '\n'}
)

// Term is a raw-mode line editor driving the debugger command table.
type Term struct {
	rw     io.ReadWriter
	prompt string
	cmd    *Commands
	r      *bufio.Reader

	line     string
	pos      int
	maxWidth int

	history []string
	histPos int // len(history) means "editing a fresh line"
	pending string
}

func New(rw io.ReadWriter, prompt string, cmd *Commands) *Term {
	return &Term{
		rw:     rw,
		prompt: prompt,
		cmd:    cmd,
		r:      bufio.NewReaderSize(rw, 256),
	}
}

// Run processes commands until EOF or an explicit quit. A non-empty
// initCmd runs before the first prompt.
func (t *Term) Run(initCmd string) error {
	if initCmd != "" {
		if err := t.cmd.Process(initCmd); err != nil && err != io.EOF {
			return err
		}
	}
	for {
		line, err := t.readLine()
		if err == io.EOF {
			t.rw.Write(crlf)
			break
		}
		if err != nil {
			t.printError(fmt.Sprintf("error reading line: %s", err))
			t.r.Reset(t.rw)
			continue
		}

		if line == "" {
			continue
		}

		if err := t.cmd.Process(line); err != nil {
			if err == io.EOF {
				break
			}
			t.printError(err.Error())
		}
	}
	return t.cmd.Close()
}

func (t *Term) printError(msg string) {
	t.rw.Write(escRed)
	t.rw.Write([]byte(msg))
	t.rw.Write(escReset)
	t.rw.Write(crlf)
}

func (t *Term) recallHistory(dir int) error {
	next := t.histPos + dir
	if next < 0 || next > len(t.history) {
		return t.beep()
	}
	if t.histPos == len(t.history) {
		t.pending = t.line
	}
	t.histPos = next
	if next == len(t.history) {
		t.line = t.pending
	} else {
		t.line = t.history[next]
	}
	return t.redrawLine()
}

func (t *Term) appendHistory(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if n := len(t.history); n > 0 && t.history[n-1] == line {
		return
	}
	t.history = append(t.history, line)
	if len(t.history) > historyMax {
		t.history = t.history[1:]
	}
}

func (t *Term) handleEscape() error {
	var seq []byte
	for {
		c, err := t.r.ReadByte()
		if err != nil {
			return err
		}
		seq = append(seq, c)
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '~' {
			break
		}
	}

	switch {
	case bytes.Equal(seq, keyUp):
		return t.recallHistory(-1)
	case bytes.Equal(seq, keyDown):
		return t.recallHistory(1)
	case bytes.Equal(seq, keyLeft):
		return t.moveCursor(t.pos - 1)
	case bytes.Equal(seq, keyRight):
		return t.moveCursor(t.pos + 1)
	case bytes.Equal(seq, keyHome):
		return t.moveCursor(0)
	case bytes.Equal(seq, keyEnd):
		return t.moveCursor(t.maxWidth)
	case bytes.Equal(seq, keyDelete):
		return t.eraseChar()
	}
	_, err := t.rw.Write(seq)
	return err
}

func (t *Term) readLine() (string, error) {
	if err := t.writeString(t.prompt); err != nil {
		return "", err
	}
	t.pos = 0
	t.maxWidth = 0
	t.line = ""
	t.histPos = len(t.history)
	t.pending = ""
	for {
		b, err := t.r.Peek(1)
		if err != nil {
			return "", err
		}

		if b[0] == keyEscape {
			if err := t.handleEscape(); err != nil {
				return "", err
			}
			continue
		}

		r, _, err := t.r.ReadRune()
		if err != nil {
			return "", err
		}
		switch r {
		case keyCtrlC, keyCtrlD:
			return "", io.EOF
		case keyBackspace:
			t.moveCursor(t.pos - 1)
			if err := t.eraseChar(); err != nil {
				return "", err
			}
		case '\r':
		case '\n':
			if _, err := t.rw.Write(crlf); err != nil {
				return "", err
			}
			t.appendHistory(t.line)
			return t.line, nil
		default:
			if err := t.writeString(string(r)); err != nil {
				return "", err
			}
			t.line += string(r)
		}
	}
}

func (t *Term) writeString(str string) error {
	if str == "" {
		return nil
	}
	_, err := t.rw.Write([]byte(str))
	if err == nil {
		t.pos += len(str)
		if t.pos > t.maxWidth {
			t.maxWidth = t.pos
		}
	}
	return err
}

func (t *Term) redrawLine() error {
	t.moveCursor(0)
	if _, err := t.rw.Write([]byte{keyEscape, '[', 'K'}); err != nil {
		return err
	}
	t.maxWidth = 0
	return t.writeString(t.line)
}

func (t *Term) moveCursor(pos int) error {
	if pos < 0 {
		pos = 0
	}
	if pos > t.maxWidth {
		pos = t.maxWidth
	}
	diff := pos - t.pos
	if diff == 0 {
		return nil
	}

	b := []byte{keyEscape, '['}
	if diff < 0 {
		b = append(b, []byte(fmt.Sprintf("%dD", -diff))...)
	} else {
		b = append(b, []byte(fmt.Sprintf("%dC", diff))...)
	}

	_, err := t.rw.Write(b)
	if err == nil {
		t.pos = pos
	}
	return err
}

func (t *Term) eraseChar() error {
	if t.pos == t.maxWidth || t.maxWidth == 0 {
		return nil
	}
	if _, err := t.rw.Write([]byte{keyEscape, '[', 'P'}); err != nil {
		return err
	}
	t.maxWidth--
	t.line = t.line[:t.pos] + t.line[t.pos+1:]
	return nil
}

func (t *Term) beep() error {
	_, err := t.rw.Write([]byte{'\a'})
	return err
}
