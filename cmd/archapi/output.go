package main

import (
	"io"

	"github.com/cuemby/archapi/pkg/types"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row(header))
	return t
}

func jobStatus(s types.JobStatus) string {
	switch s {
	case types.JobStatusComplete:
		return text.FgGreen.Sprint(s)
	case types.JobStatusProcessing:
		return text.FgYellow.Sprint(s)
	case types.JobStatusError:
		return text.FgRed.Sprint(s)
	default:
		return text.FgHiBlack.Sprint(s)
	}
}

func envelopeStatus(s string) string {
	switch s {
	case "ok", "ready":
		return text.FgGreen.Sprint(s)
	case "busy":
		return text.FgYellow.Sprint(s)
	default:
		return text.FgRed.Sprint(s)
	}
}
