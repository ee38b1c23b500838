package linker

import "ulmld/pkg/utils"

// Link assigns the final segment layout and applies every queued
// fixup. The text segment starts at textBase, data follows the text
// end aligned to its own alignment, bss follows data the same way.
// After Link the aggregate is immutable except for emission.
func (o *ObjectFile) Link(textBase uint64) error {
	text, data, bss := o.Text(), o.Data(), o.Bss()

	if err := text.SetBaseAddr(textBase); err != nil {
		return Wrap(err, "bad text segment base")
	}
	textAddr := text.BaseAddr

	dataAddr := utils.AlignTo(text.EndAddr(), data.Alignment)
	if err := data.SetBaseAddr(dataAddr); err != nil {
		return err
	}
	// fill the gap between text and data if necessary
	text.AdvanceTo(dataAddr)

	bssAddr := utils.AlignTo(data.EndAddr(), bss.Alignment)
	if err := bss.SetBaseAddr(bssAddr); err != nil {
		return err
	}

	// rebase global symbols
	for _, ident := range o.SymTab.Keys() {
		e, _ := o.SymTab.Get(ident)
		switch e.Kind {
		case 'T':
			e.Value += textAddr
		case 'D':
			e.Value += dataAddr
		case 'B':
			e.Value += bssAddr
		case 'A':
			// absolute, nothing to do
		default:
			return Errorf("can not handle symbol kind '%c' at link time", e.Kind)
		}
		o.SymTab.Put(ident, e)
	}

	// apply fixups
	for _, ident := range o.Fixables.Keys() {
		entries, _ := o.Fixables.Get(ident)
		for _, fix := range entries {
			if err := o.applyFixup(ident, fix); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *ObjectFile) applyFixup(ident string, fix FixEntry) error {
	var seg *Segment
	addr := fix.Addr

	switch fix.Segment {
	case "text":
		seg = o.Text()
	case "data":
		seg = o.Data()
	default:
		return Errorf("can not apply a fix in segment %s", fix.Segment)
	}
	addr += seg.BaseAddr

	value := uint64(fix.Displace)
	switch ident {
	case "[text]":
		value += o.Text().BaseAddr
	case "[data]":
		value += o.Data().BaseAddr
	case "[bss]":
		value += o.Bss().BaseAddr
	default:
		e, ok := o.SymTab.Get(ident)
		if !ok {
			return Errorf("unresolved symbol %s", ident)
		}
		value += e.Value
	}

	switch fix.Kind {
	case "absolute":
		// value is used as is
	case "relative":
		// pc-relative displacement in words, the word size is fixed at 4
		if (value-addr)%4 != 0 {
			return AddrError(addr, "address for relative jump is not a multiple of 4")
		}
		value = (value - addr) / 4
	case "w0":
		value = value & 0xFFFF
	case "w1":
		value = value >> 16 & 0xFFFF
	case "w2":
		value = value >> 32 & 0xFFFF
	case "w3":
		value = value >> 48 & 0xFFFF
	default:
		return Errorf("can not apply a '%s' fix", fix.Kind)
	}

	seg.PatchBytes(addr+fix.Offset, fix.NumBytes, value)
	return nil
}
