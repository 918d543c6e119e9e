//go:build linux

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

var interactiveHistory []string

func isTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}

// lineEditor is an emacs-style single line editor over a raw terminal.
type lineEditor struct {
	prompt string
	out    io.Writer
	line   []rune
	cursor int

	histPos      int
	histBrowsing bool
	histDraft    []rune
}

func readInteractiveLine(prompt string) (string, error) {
	if !isTerminal(os.Stdin) {
		return readPlainLine()
	}

	fd := int(os.Stdin.Fd())
	oldState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	newState := *oldState
	newState.Lflag &^= unix.ICANON | unix.ECHO
	newState.Cc[unix.VMIN] = 1
	newState.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &newState); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, oldState)
	}()

	e := &lineEditor{prompt: prompt, out: os.Stdout, histPos: len(interactiveHistory)}
	_, _ = fmt.Fprint(e.out, prompt)
	line, err := e.run(os.Stdin)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		interactiveHistory = append(interactiveHistory, line)
	}
	return line, nil
}

func (e *lineEditor) run(in io.Reader) (string, error) {
	var (
		buf     [64]byte
		pending []byte
		escape  int
		csi     strings.Builder
	)
	for {
		n, err := in.Read(buf[:])
		if err != nil {
			return "", err
		}
		pending = append(pending, buf[:n]...)
		for len(pending) > 0 {
			b := pending[0]
			if escape != 0 {
				pending = pending[1:]
				switch escape {
				case 1:
					escape = 0
					switch b {
					case '[':
						escape = 2
						csi.Reset()
					case 'b', 'B':
						e.wordLeft()
					case 'f', 'F':
						e.wordRight()
					case 127:
						e.deleteWordBack()
					}
				case 2:
					csi.WriteByte(b)
					if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
						e.handleCSI(csi.String())
						escape = 0
					}
				}
				continue
			}

			if b >= utf8.RuneSelf {
				if !utf8.FullRune(pending) {
					break
				}
				r, size := utf8.DecodeRune(pending)
				pending = pending[size:]
				e.insert(r)
				continue
			}
			pending = pending[1:]

			switch b {
			case 27: // ESC
				escape = 1
			case '\r', '\n':
				_, _ = fmt.Fprint(e.out, "\r\n")
				return string(e.line), nil
			case 3: // Ctrl+C
				_, _ = fmt.Fprint(e.out, "^C\r\n")
				return "", io.EOF
			case 4: // Ctrl+D
				if len(e.line) == 0 {
					_, _ = fmt.Fprint(e.out, "\r\n")
					return "", io.EOF
				}
				e.deleteAt(e.cursor)
			case 127, 8: // backspace
				if e.cursor > 0 {
					e.cursor--
					e.deleteAt(e.cursor)
				}
			case 1: // Ctrl+A
				e.cursor = 0
				e.redraw()
			case 5: // Ctrl+E
				e.cursor = len(e.line)
				e.redraw()
			case 11: // Ctrl+K
				e.line = e.line[:e.cursor]
				e.redraw()
			case 21: // Ctrl+U
				e.line = append(e.line[:0], e.line[e.cursor:]...)
				e.cursor = 0
				e.redraw()
			case 23: // Ctrl+W
				e.deleteWordBack()
			default:
				if b >= 32 {
					e.insert(rune(b))
				}
			}
		}
	}
}

func (e *lineEditor) redraw() {
	_, _ = fmt.Fprintf(e.out, "\r%s%s\x1b[K", e.prompt, string(e.line))
	if e.cursor < len(e.line) {
		_, _ = fmt.Fprintf(e.out, "\r%s%s", e.prompt, string(e.line[:e.cursor]))
	}
}

func (e *lineEditor) insert(r rune) {
	e.line = append(e.line, 0)
	copy(e.line[e.cursor+1:], e.line[e.cursor:])
	e.line[e.cursor] = r
	e.cursor++
	e.redraw()
}

func (e *lineEditor) deleteAt(i int) {
	if i < 0 || i >= len(e.line) {
		e.redraw()
		return
	}
	e.line = append(e.line[:i], e.line[i+1:]...)
	e.redraw()
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t'
}

func (e *lineEditor) wordStart() int {
	i := e.cursor
	for i > 0 && isSpace(e.line[i-1]) {
		i--
	}
	for i > 0 && !isSpace(e.line[i-1]) {
		i--
	}
	return i
}

func (e *lineEditor) wordEnd() int {
	i := e.cursor
	for i < len(e.line) && isSpace(e.line[i]) {
		i++
	}
	for i < len(e.line) && !isSpace(e.line[i]) {
		i++
	}
	return i
}

func (e *lineEditor) wordLeft() {
	e.cursor = e.wordStart()
	e.redraw()
}

func (e *lineEditor) wordRight() {
	e.cursor = e.wordEnd()
	e.redraw()
}

func (e *lineEditor) deleteWordBack() {
	start := e.wordStart()
	e.line = append(e.line[:start], e.line[e.cursor:]...)
	e.cursor = start
	e.redraw()
}

func (e *lineEditor) deleteWordForward() {
	end := e.wordEnd()
	e.line = append(e.line[:e.cursor], e.line[end:]...)
	e.redraw()
}

func (e *lineEditor) recall(entry []rune) {
	e.line = append(e.line[:0], entry...)
	e.cursor = len(e.line)
	e.redraw()
}

func (e *lineEditor) handleCSI(seq string) {
	switch seq {
	case "A": // up
		if len(interactiveHistory) == 0 {
			return
		}
		if !e.histBrowsing {
			e.histDraft = append([]rune(nil), e.line...)
			e.histBrowsing = true
			e.histPos = len(interactiveHistory)
		}
		if e.histPos > 0 {
			e.histPos--
			e.recall([]rune(interactiveHistory[e.histPos]))
		}
	case "B": // down
		if !e.histBrowsing {
			return
		}
		if e.histPos < len(interactiveHistory)-1 {
			e.histPos++
			e.recall([]rune(interactiveHistory[e.histPos]))
			return
		}
		e.histPos = len(interactiveHistory)
		e.histBrowsing = false
		e.recall(e.histDraft)
	case "D":
		if e.cursor > 0 {
			e.cursor--
			e.redraw()
		}
	case "C":
		if e.cursor < len(e.line) {
			e.cursor++
			e.redraw()
		}
	case "H", "1~":
		e.cursor = 0
		e.redraw()
	case "F", "4~":
		e.cursor = len(e.line)
		e.redraw()
	case "3~":
		e.deleteAt(e.cursor)
	case "1;5D", "5D":
		e.wordLeft()
	case "1;5C", "5C":
		e.wordRight()
	case "3;5~":
		e.deleteWordForward()
	}
}
