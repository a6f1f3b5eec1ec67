package model

import (
	"fmt"
	"log/slog"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

type CueErrorDetail struct {
	Path    string // build.poll_interval
	Message string
	Pos     CueErrorPosition
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

func (c CueErrorDetail) String() string {
	var b strings.Builder
	if c.Pos.Filename != "" {
		fmt.Fprintf(&b, "%s:%d:%d: ", c.Pos.Filename, c.Pos.Line, c.Pos.Column)
	}
	if c.Path != "" {
		b.WriteString(c.Path)
		b.WriteString(": ")
	}
	b.WriteString(c.Message)
	return b.String()
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

// CueErrDetails splits an error returned by LoadConfig into one entry per
// reported problem. Duplicates pointing to the same position are dropped.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		d := CueErrorDetail{
			Path:    normalizePath(e.Path()),
			Message: fmt.Sprintf(format, args...),
		}
		for _, p := range cueerrors.Positions(e) {
			if p.IsValid() && p.Filename() != "" {
				d.Pos = CueErrorPosition{Filename: p.Filename(), Line: p.Line(), Column: p.Column()}
				break
			}
		}
		key := d.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

func normalizePath(parts []string) string {
	if len(parts) > 0 && parts[0] == "#Config" {
		parts = parts[1:]
	}
	return strings.Join(parts, ".")
}
