package linker

import (
	"fmt"
	"io"
)

// Print writes the linked executable image: a shebang invoking the
// interpreter, the three segment dumps, and the symbol table with all
// globals followed by all locals.
func (o *ObjectFile) Print(w io.Writer, ulm string, strip bool) {
	fmt.Fprintf(w, "#!/usr/bin/env -S %s\n", ulm)

	fmt.Fprintf(w, "#TEXT %d\n", o.Text().Alignment)
	o.printSegment(w, SegText, strip)
	fmt.Fprintf(w, "#DATA %d\n", o.Data().Alignment)
	o.printSegment(w, SegData, strip)
	fmt.Fprintf(w, "#BSS %d %d\n", o.Bss().Alignment, o.Bss().Size())
	fmt.Fprintf(w, "#(begins at 0x%x)\n", o.Bss().BaseAddr)

	fmt.Fprintf(w, "#SYMTAB \n")
	for _, ident := range o.SymTab.Keys() {
		e, _ := o.SymTab.Get(ident)
		fmt.Fprintf(w, "%c %-27s 0x%016X\n", e.Kind, ident, e.Value)
	}
	for _, ident := range o.LocalSymTab.Keys() {
		entries, _ := o.LocalSymTab.Get(ident)
		for _, e := range entries {
			fmt.Fprintf(w, "%c %-27s 0x%016X\n", e.Kind, ident, e.Value)
		}
	}
}

func (o *ObjectFile) printSegment(w io.Writer, seg int, strip bool) {
	if o.Segments[seg].Size() > 0 {
		o.Segments[seg].Print(w, strip)
	}
}
