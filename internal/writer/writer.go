// Package writer streams the mtrack JSON artifact in a single forward
// pass, matching the exact shape parser/Parser.cpp's writeEvents/
// writeStacks/writeStrings produce: a top-level object with "events",
// "stacks", and "strings" arrays, each null-terminated so an incremental
// reader never needs to look ahead to know an array is complete.
package writer

import (
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/gzip"
)

// Writer streams one JSON document. Call Open, then OpenEvents, Event
// for each event in emission order and CloseEvents, then OpenStacks,
// StartStack/Frame (repeated)/EndStack per stack and CloseStacks, then
// OpenStrings, String per string and CloseStrings, then Close.
type Writer struct {
	w       io.Writer
	gz      *gzip.Writer
	err     error
	wroteEv bool
}

// New wraps dst in a plain (uncompressed) Writer.
func New(dst io.Writer) *Writer {
	return &Writer{w: dst}
}

// NewGzip wraps dst in a gzip-compressed Writer, using
// github.com/klauspost/compress/gzip's faster, drop-in-compatible
// implementation of the standard gzip container format in place of a
// bespoke deflate encoder.
func NewGzip(dst io.Writer) *Writer {
	gz := gzip.NewWriter(dst)
	return &Writer{w: gz, gz: gz}
}

func (w *Writer) writeString(s string) {
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, s)
}

// Open writes the opening brace.
func (w *Writer) Open() { w.writeString("{") }

// OpenEvents writes the "events" array's opening bracket.
func (w *Writer) OpenEvents() { w.writeString(`"events":[`) }

// Event writes one event as a JSON array whose first element is the
// numeric record kind, followed by fields, terminated with a trailing
// comma (the array itself is closed by CloseEvents' "null]").
func (w *Writer) Event(kind int, fields ...int64) {
	if w.err != nil {
		return
	}
	w.writeString("[")
	w.writeString(strconv.Itoa(kind))
	for _, f := range fields {
		w.writeString(",")
		w.writeString(strconv.FormatInt(f, 10))
	}
	w.writeString("],")
}

// CloseEvents terminates the events array with the null sentinel.
func (w *Writer) CloseEvents() { w.writeString("null],") }

// OpenStacks writes the "stacks" array's opening bracket.
func (w *Writer) OpenStacks() { w.writeString(`"stacks":[`) }

// StartStack opens one stack's frame array.
func (w *Writer) StartStack() { w.writeString("[") }

// Frame writes one resolved frame as [functionID,fileID,line], optionally
// followed by its inlined frames as a trailing array, matching
// Parser.cpp's writeStacks format string.
func (w *Writer) Frame(functionID, fileID int32, line int32, inlined [][3]int32) {
	if w.err != nil {
		return
	}
	w.writeString(fmt.Sprintf("[%d,%d,%d", functionID, fileID, line))
	if len(inlined) > 0 {
		w.writeString(",[")
		for i, inl := range inlined {
			w.writeString(fmt.Sprintf("[%d,%d,%d]", inl[0], inl[1], inl[2]))
			if i+1 != len(inlined) {
				w.writeString(",")
			}
		}
		w.writeString("]")
	}
	w.writeString("],")
}

// EndStack closes one stack's frame array with the null sentinel.
func (w *Writer) EndStack() { w.writeString("null],") }

// CloseStacks terminates the stacks array with the null sentinel.
func (w *Writer) CloseStacks() { w.writeString("null],\n") }

// OpenStrings writes the "strings" array's opening bracket.
func (w *Writer) OpenStrings() { w.writeString(`"strings":[`) }

// String writes one string entry. Callers must pre-sanitize s: it is
// written double-quoted and is not re-escaped.
func (w *Writer) String(s string) {
	if w.err != nil {
		return
	}
	w.writeString(`"`)
	w.writeString(s)
	w.writeString(`",`)
}

// CloseStrings terminates the strings array with the null sentinel.
func (w *Writer) CloseStrings() { w.writeString("null]\n") }

// Close writes the closing brace and flushes/closes any gzip wrapper.
func (w *Writer) Close() error {
	w.writeString("}\n")
	if w.gz != nil {
		if err := w.gz.Close(); err != nil && w.err == nil {
			w.err = err
		}
	}
	return w.err
}

// Err returns the first write error encountered, if any.
func (w *Writer) Err() error { return w.err }
