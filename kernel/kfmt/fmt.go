// Package kfmt implements the console output path of the platform: a
// replaceable output sink, an early ring buffer that keeps output produced
// before a sink is attached, per-line prefixing and the panic banner. It
// also builds the structured loggers used by the platform.
package kfmt

import (
	"fmt"
	"io"
	"sync"
)

var (
	// earlyPrintBuffer is a ring buffer that stores Printf output before an
	// output sink is attached.
	earlyPrintBuffer = newRingBuffer(defaultRingBufferSize)

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer

	sinkMu sync.Mutex
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, earlyPrintBuffer)
	}
}

// Printf formats according to a format specifier and writes to the active
// output sink.
func Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(Writer(), format, args...)
}

// Fprintf behaves like Printf but writes to w.
func Fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

// Writer returns an io.Writer that forwards writes to whatever output sink is
// active at the time of the write.
func Writer() io.Writer {
	return sinkWriter{}
}

type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	if outputSink == nil {
		return earlyPrintBuffer.Write(p)
	}
	return outputSink.Write(p)
}
