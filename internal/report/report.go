package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/rdmtests/console/internal/notify"
	"github.com/rdmtests/console/internal/rdmtests"
	"github.com/rdmtests/console/internal/results"
	"github.com/rdmtests/console/internal/sequencer"
)

// Printer renders console state as terminal tables.
type Printer struct {
	out   io.Writer
	style table.Style
	color bool
}

type Option func(*Printer)

// WithColor colours test states and picks a coloured table style.
func WithColor() Option {
	return func(p *Printer) {
		p.color = true
		p.style = table.StyleColoredDark
	}
}

func NewPrinter(out io.Writer, opts ...Option) *Printer {
	p := &Printer{out: out, style: table.StyleLight}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Printer) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(p.style)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

// Universes lists the known universes and marks the selected one.
func (p *Printer) Universes(universes []rdmtests.Universe, selected int) {
	t := p.newTable("Universes")
	t.AppendHeader(table.Row{"", "ID", "Name"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "ID", Align: text.AlignRight},
	})
	for _, u := range universes {
		mark := ""
		if u.ID == selected {
			mark = "*"
		}
		t.AppendRow(table.Row{mark, u.ID, u.Name})
	}
	if len(universes) == 0 {
		t.AppendRow(table.Row{"", "-", "no universes"})
	}
	t.Render()
}

// Devices lists the UIDs patched to a universe.
func (p *Printer) Devices(universe int, uids []string) {
	t := p.newTable(fmt.Sprintf("Devices on universe %d", universe))
	t.AppendHeader(table.Row{"#", "UID"})
	for i, uid := range uids {
		t.AppendRow(table.Row{i + 1, uid})
	}
	t.AppendFooter(table.Row{"TOTAL", len(uids)})
	t.Render()
}

// TestDefs lists the test definitions the server offers.
func (p *Printer) TestDefs(defs []string) {
	sorted := append([]string(nil), defs...)
	sort.Strings(sorted)

	t := p.newTable("Test definitions")
	t.AppendHeader(table.Row{"Definition"})
	for _, def := range sorted {
		t.AppendRow(table.Row{def})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d tests", len(sorted))})
	t.Render()
}

// Summary prints the per-state counts and the per-category pass rates of a run.
func (p *Printer) Summary(session *sequencer.RunSession) {
	t := p.newTable(fmt.Sprintf("Test results for %s", session.UID))
	t.AppendHeader(table.Row{"State", "Count"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Count", Align: text.AlignRight},
	})
	total := 0
	for _, sc := range session.Summary {
		t.AppendRow(table.Row{p.state(sc.State), sc.Count})
		total += sc.Count
	}
	t.AppendFooter(table.Row{"TOTAL", total})
	t.Render()

	c := p.newTable("By category")
	c.AppendHeader(table.Row{"Category", "Passed", "Total", "Pass rate"})
	c.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Category", WidthMax: 40, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Total", Align: text.AlignRight},
		{Name: "Pass rate", Align: text.AlignRight},
	})
	for _, cs := range session.CategoryStats {
		c.AppendRow(table.Row{cs.Name, cs.Passed, cs.Total, cs.PercentLabel()})
	}
	c.Render()

	fmt.Fprintf(p.out, "Warnings: %d  Advisories: %d\n", session.WarningCount, session.AdvisoryCount)
	if session.LogsDisabled {
		fmt.Fprintln(p.out, "Log download is disabled on the server")
	}
}

// Results prints a filtered result list.
func (p *Printer) Results(entries []results.Entry, category, state string) {
	t := p.newTable(fmt.Sprintf("Results (category: %s, state: %s)", category, state))
	t.AppendHeader(table.Row{"Definition", "State"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Definition, p.state(e.State)})
	}
	t.AppendFooter(table.Row{"TOTAL", len(entries)})
	t.Render()
}

// Notes prints the warnings and advisories of a run, one line each.
func (p *Printer) Notes(store *results.Store) {
	for _, section := range []struct {
		title string
		lines []string
	}{
		{"Warnings", store.Warnings()},
		{"Advisories", store.Advisories()},
	} {
		if len(section.lines) == 0 {
			continue
		}
		t := p.newTable(section.title)
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, WidthMax: 100, WidthMaxEnforcer: text.WrapSoft},
		})
		for _, line := range section.lines {
			t.AppendRow(table.Row{line})
		}
		t.Render()
	}
}

// Record prints the full detail of one test result.
func (p *Printer) Record(rec results.Record) {
	t := p.newTable(rec.Definition)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 100, WidthMaxEnforcer: text.WrapSoft},
	})
	t.AppendRows([]table.Row{
		{"Category", rec.Category},
		{"State", p.state(rec.State)},
		{"Doc", rec.Doc},
	})
	for _, w := range rec.Warnings {
		t.AppendRow(table.Row{"Warning", w})
	}
	for _, a := range rec.Advisories {
		t.AppendRow(table.Row{"Advisory", a})
	}
	if debug := rec.DebugText(); debug != "" {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Debug", debug})
	}
	t.Render()
}

// Notification prints the current notification, if any.
func (p *Printer) Notification(n notify.Notification) {
	if n.Message == "" {
		fmt.Fprintln(p.out, n.Title)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", n.Title, n.Message)
}

func (p *Printer) state(s results.State) string {
	if !p.color {
		return string(s)
	}
	switch s {
	case results.StatePassed:
		return text.FgGreen.Sprint(s)
	case results.StateFailed:
		return text.FgRed.Sprint(s)
	case results.StateBroken:
		return text.FgYellow.Sprint(s)
	default:
		return text.FgHiBlack.Sprint(s)
	}
}
