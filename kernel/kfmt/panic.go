package kfmt

import (
	"errors"
	"os"
	"strings"

	"github.com/jansone-dace/OSI-2019/kernel"
)

var (
	// haltFn is mocked by tests.
	haltFn = func() { os.Exit(1) }

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and halts the
// machine. Calls to Panic never return.
func Panic(e any) {
	Printf("%s", Banner(e, "*** kernel panic: system halted ***"))
	haltFn()
}

// Banner formats the report printed when e aborts execution. status is the
// closing line describing what happens next.
func Banner(e any, status string) string {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
		var kerr *kernel.Error
		if errors.As(t, &kerr) {
			err.Module = kerr.Module
		}
	}

	var sb strings.Builder
	sb.WriteString("\n-----------------------------------\n")
	if err != nil {
		sb.WriteString("[" + err.Module + "] unrecoverable error: " + err.Message + "\n")
	}
	sb.WriteString(status)
	sb.WriteString("\n-----------------------------------\n")
	return sb.String()
}
