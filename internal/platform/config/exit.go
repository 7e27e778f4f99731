package config

import (
	"fmt"
	"io"
	"os"
)

// ExitPrefix starts every fatal message.
const ExitPrefix = "bookshelf: "

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	os.Exit(report(os.Stderr, format, args...))
}

// report writes the fatal message to w and returns the exit code.
func report(w io.Writer, format string, args ...any) int {
	fmt.Fprintf(w, ExitPrefix+format+"\n", args...)
	return 1
}
