package format

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

const (
	maxFrames     = 10
	maxErrorDepth = 32
)

// Frame is one caller frame shown in error reports.
type Frame struct {
	Func string `json:"func"`
	File string `json:"file"`
	Line int    `json:"line"`
}

func (f Frame) String() string {
	return fmt.Sprintf("%s:%d in %s", f.File, f.Line, f.Func)
}

// Callers captures up to 10 frames above the caller of Callers. skip=0
// starts at the function that called Callers.
func Callers(skip int) []Frame {
	var pcs [maxFrames]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	out := make([]Frame, 0, n)
	for {
		fr, more := frames.Next()
		if fr.File != "" && fr.Line > 0 {
			out = append(out, Frame{Func: fr.Function, File: fr.File, Line: fr.Line})
		}
		if !more {
			break
		}
	}
	return out
}

// ErrorReport renders the short chat form of an error: type and message,
// the first wrapped cause, the environment name when set and the source
// frames.
func ErrorReport(err error, env string, now time.Time, frames []Frame) string {
	var b strings.Builder
	b.WriteString(LevelError.Tag())
	b.WriteByte(' ')
	b.WriteString(now.Format(TimeLayout))
	b.WriteByte('\n')
	if env != "" {
		b.WriteString("Environment: ")
		b.WriteString(EscapeMarkdown(env))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if err == nil {
		b.WriteString("🛑<nil>\n")
		return b.String()
	}
	fmt.Fprintf(&b, "🛑%s: %s\n", EscapeMarkdown(typeName(err)), EscapeMarkdown(err.Error()))
	if inner := firstCause(err); inner != nil {
		b.WriteString("Inner error: ")
		b.WriteString(EscapeMarkdown(inner.Error()))
		b.WriteByte('\n')
	}

	if len(frames) > 0 {
		b.WriteString("\n🪲Source:")
		for _, f := range frames {
			b.WriteString("\n    At ")
			b.WriteString(EscapeMarkdown(f.String()))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ErrorNode is one error in a wrapped error tree.
type ErrorNode struct {
	Type    string      `json:"type"`
	Message string      `json:"message"`
	Causes  []ErrorNode `json:"causes,omitempty"`
}

// Details is the document attached to detailed error reports.
type Details struct {
	Time        time.Time `json:"time"`
	Environment string    `json:"environment,omitempty"`
	Error       ErrorNode `json:"error"`
	Stack       []Frame   `json:"stack,omitempty"`
}

// ErrorDetails renders err and every error it wraps (both Unwrap() error and
// Unwrap() []error) as an indented JSON document.
func ErrorDetails(err error, env string, now time.Time, frames []Frame) ([]byte, error) {
	d := Details{
		Time:        now,
		Environment: env,
		Error:       errorTree(err, 0),
		Stack:       frames,
	}
	return json.MarshalIndent(d, "", "  ")
}

func errorTree(err error, depth int) ErrorNode {
	if err == nil {
		return ErrorNode{Type: "<nil>"}
	}
	n := ErrorNode{Type: typeName(err), Message: err.Error()}
	if depth >= maxErrorDepth {
		return n
	}
	for _, c := range causes(err) {
		n.Causes = append(n.Causes, errorTree(c, depth+1))
	}
	return n
}

func causes(err error) []error {
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		var out []error
		for _, e := range u.Unwrap() {
			if e != nil {
				out = append(out, e)
			}
		}
		return out
	case interface{ Unwrap() error }:
		if e := u.Unwrap(); e != nil {
			return []error{e}
		}
	}
	return nil
}

func firstCause(err error) error {
	if c := causes(err); len(c) > 0 {
		return c[0]
	}
	return nil
}

func typeName(err error) string {
	return fmt.Sprintf("%T", err)
}
