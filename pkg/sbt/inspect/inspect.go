// Package inspect provides a read-only terminal browser over a parsed
// guest object: sections, symbols and disassembled instructions,
// optionally annotated with address-to-source lines. It never executes
// guest code - everything it renders comes straight out of pkg/sbt/object
// and pkg/sbt/disasm.
package inspect

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/disasm"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
)

// Browser renders obj in a two-pane layout: a section list on the left,
// the selected section's contents on the right.
type Browser struct {
	obj *object.Object
	src map[object.GuestAddress][]string

	app  *tview.Application
	list *tview.List
	view *tview.TextView
}

// New builds a Browser over obj. src is the optional address-to-source
// map produced by pkg/sbt/a2s; a nil map disables source annotations.
func New(obj *object.Object, src map[object.GuestAddress][]string) *Browser {
	b := &Browser{
		obj:  obj,
		src:  src,
		app:  tview.NewApplication(),
		list: tview.NewList().ShowSecondaryText(false),
		view: tview.NewTextView().SetDynamicColors(true).SetWrap(false),
	}
	b.list.SetBorder(true).SetTitle(fmt.Sprintf(" %s ", obj.Path))
	b.view.SetBorder(true).SetTitle(" contents (q to quit) ")

	for _, sec := range obj.Sections() {
		sec := sec
		label := fmt.Sprintf("%-16s 0x%08x %8d %s", sec.Name, uint32(sec.Addr), sec.Size, sec.Kind)
		b.list.AddItem(label, "", 0, func() { b.showSection(sec) })
	}

	flex := tview.NewFlex().
		AddItem(b.list, 48, 1, true).
		AddItem(b.view, 0, 2, false)

	b.app.SetRoot(flex, true).SetFocus(b.list)
	b.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Rune() == 'q' {
			b.app.Stop()
			return nil
		}
		return ev
	})

	if secs := obj.Sections(); len(secs) > 0 {
		b.showSection(secs[0])
	}

	return b
}

// Run starts the TUI event loop. It blocks until the user quits (q or
// Ctrl-C).
func (b *Browser) Run() error {
	return b.app.Run()
}

func (b *Browser) showSection(sec *object.Section) {
	b.view.Clear()
	fmt.Fprintf(b.view, "[yellow]%s[white] addr=0x%08x size=%d kind=%s\n\n",
		sec.Name, uint32(sec.Addr), sec.Size, sec.Kind)

	if sec.Kind != object.KindText {
		b.renderData(sec)
		return
	}
	b.renderText(sec)
}

func (b *Browser) renderData(sec *object.Section) {
	if len(sec.Symbols) == 0 {
		fmt.Fprintln(b.view, "(no symbols)")
		return
	}
	for _, sym := range sec.Symbols {
		fmt.Fprintf(b.view, "0x%08x  %s\n", uint32(sym.Addr), sym.Name)
	}
}

// renderText walks sec's bytes instruction by instruction, interleaving
// any source lines src has for the current address and a label line at
// the start of each function symbol.
func (b *Browser) renderText(sec *object.Section) {
	end := sec.Addr + object.GuestAddress(sec.Size)
	for pc := sec.Addr; pc < end; {
		if lines, ok := b.src[pc]; ok {
			for _, l := range lines {
				fmt.Fprintf(b.view, "[green];  %s[white]\n", tview.Escape(l))
			}
		}
		if sym := object.SymbolAt(sec, pc); sym != nil && sym.Function() {
			fmt.Fprintf(b.view, "[aqua]%s:[white]\n", tview.Escape(sym.Name))
		}

		off := uint64(pc - sec.Addr)
		if off+4 > uint64(len(sec.Bytes)) {
			fmt.Fprintf(b.view, "0x%08x  <truncated>\n", uint32(pc))
			break
		}
		word := uint32(sec.Bytes[off]) | uint32(sec.Bytes[off+1])<<8 |
			uint32(sec.Bytes[off+2])<<16 | uint32(sec.Bytes[off+3])<<24

		in, err := disasm.Decode(pc, word)
		if err != nil {
			fmt.Fprintf(b.view, "0x%08x  %08x  [red]<invalid>[white]\n", uint32(pc), word)
			pc += 4
			continue
		}
		fmt.Fprintf(b.view, "0x%08x  %08x  %s\n", uint32(pc), word, tview.Escape(in.String()))
		pc += object.GuestAddress(in.Size)
	}
}
