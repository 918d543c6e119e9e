package main

import (
	"bufio"
	"io"
	"os"
)

var stdinReader = bufio.NewReader(os.Stdin)

// readPlainLine reads one line from stdin without editing support.
func readPlainLine() (string, error) {
	s, err := stdinReader.ReadString('\n')
	if err != nil {
		if err == io.EOF && s != "" {
			return trimTrailingNewline(s), nil
		}
		return "", err
	}
	return trimTrailingNewline(s), nil
}

func trimTrailingNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '\r' {
		s = s[:len(s)-1]
	}
	return s
}
