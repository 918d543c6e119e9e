//go:build !linux

package main

import (
	"fmt"
	"os"
)

func isTerminal(f *os.File) bool {
	st, err := f.Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}

func readInteractiveLine(prompt string) (string, error) {
	if isTerminal(os.Stdin) {
		fmt.Print(prompt)
	}
	return readPlainLine()
}
