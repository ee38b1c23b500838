package linker

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Parsing modes of the object text format. The segment constants
// double as modes for their own content records.
const (
	modeNone   = -1
	modeSymtab = 3
	modeFixups = 4
)

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// ReadSegments parses one textual object unit (a standalone file or an
// archive member) into the aggregate. The source name keys the marks
// that make all addresses in the unit relative to where its
// contribution begins.
func (o *ObjectFile) ReadSegments(r io.Reader, source string) error {
	br := bufio.NewReader(r)
	if first, err := br.Peek(1); err != nil || first[0] != '#' {
		return Errorf("not an object file %s", source)
	}

	mode := modeNone
	var fileBase uint64

	scanner := bufio.NewScanner(br)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "#TEXT"):
			mode = SegText
			if err := o.readSegmentMarker(SegText, line[5:], source); err != nil {
				return err
			}
			continue
		case strings.HasPrefix(line, "#DATA"):
			mode = SegData
			if err := o.readSegmentMarker(SegData, line[5:], source); err != nil {
				return err
			}
			continue
		case strings.HasPrefix(line, "#BSS"):
			mode = SegBss
			if err := o.readBssMarker(line[4:], source); err != nil {
				return err
			}
			continue
		case strings.HasPrefix(line, "#SYMTAB"):
			mode = modeSymtab
			continue
		case strings.HasPrefix(line, "#FIXUPS"):
			mode = modeFixups
			continue
		case strings.HasPrefix(line, "#"), len(line) == 0:
			continue
		}

		var err error
		switch mode {
		case SegText, SegData:
			fileBase, err = o.readContentRecord(mode, line, source, fileBase)
		case modeSymtab:
			err = o.readSymtabRecord(line, source)
		case modeFixups:
			err = o.readFixupRecord(line, source)
		}
		if err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (o *ObjectFile) readSegmentMarker(seg int, rest, source string) error {
	rest = stripSpaces(rest)
	if rest != "" {
		alignment, err := strconv.ParseUint(rest, 10, 64)
		if err != nil || alignment == 0 {
			return Errorf("bad alignment %q in %s", rest, source)
		}
		o.Segments[seg].SetAlignment(alignment)
	}
	o.Segments[seg].SetMark(source)
	return nil
}

// readBssMarker reserves the declared zero-initialized space right
// away, alignment first, then size relative to the source's mark.
func (o *ObjectFile) readBssMarker(rest, source string) error {
	bss := o.Segments[SegBss]
	bss.SetMark(source)

	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return Errorf("bad #BSS directive in %s", source)
	}
	alignment, err1 := strconv.ParseUint(fields[0], 10, 64)
	size, err2 := strconv.ParseUint(fields[1], 10, 64)
	if err1 != nil || err2 != nil || alignment == 0 {
		return Errorf("bad #BSS directive in %s", source)
	}

	bss.SetAlignment(alignment)
	if size > 0 {
		bss.AdvanceTo(bss.GetMark(source) + size)
	}
	return nil
}

// readContentRecord handles one TEXT/DATA line: an optional "hexaddr:"
// prefix, a run of hex byte pairs, an optional trailing comment. The
// first record of a source establishes the source's file base address;
// later explicit addresses are taken relative to it.
func (o *ObjectFile) readContentRecord(seg int, line, source string, fileBase uint64) (uint64, error) {
	segment := o.Segments[seg]

	comment := ""
	if ci := strings.Index(line, "#"); ci >= 0 {
		comment = strings.TrimPrefix(line[ci+1:], " ")
		line = line[:ci]
	}
	line = stripSpaces(line)

	if segment.IsAtMark(source) {
		segment.AppendHeader("# from: " + source)
	}

	var addr uint64
	if colon := strings.Index(line, ":"); colon >= 0 {
		parsed, err := strconv.ParseUint(line[:colon], 16, 64)
		if err != nil {
			return fileBase, Errorf("bad address %q in %s", line[:colon], source)
		}
		line = line[colon+1:]
		if segment.IsAtMark(source) {
			fileBase = parsed
		}
		addr = parsed - fileBase
	} else {
		addr = segment.Size() - segment.GetMark(source)
		if segment.IsAtMark(source) {
			fileBase = addr
		}
	}

	addr += segment.GetMark(source)
	if segment.RequiresAdvanceTo(addr) {
		return fileBase, Errorf(
			"in segment %d (0=text, 1=data, 2=bss) of %s there is a gap "+
				"that would require fill bytes; only alignment may create gaps",
			seg, source)
	}
	if err := segment.InsertByteString(addr, line); err != nil {
		return fileBase, err
	}
	if comment != "" {
		segment.AppendAnnotation(comment)
	}
	return fileBase, nil
}

// readSymtabRecord handles one "<kind> <ident> <hexvalue>" line.
// Uppercase segment kinds resolve the identifier and label its
// address, lowercase kinds go to the local table, 'U' queues an
// unresolved reference, other uppercase kinds define plain globals.
func (o *ObjectFile) readSymtabRecord(line, source string) error {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields[0]) != 1 {
		return Errorf("bad symbol record %q in %s", line, source)
	}
	kind := fields[0][0]
	ident := fields[1]

	var value uint64
	if len(fields) > 2 {
		v, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			return Errorf("bad symbol value %q in %s", fields[2], source)
		}
		value = v
	}

	switch kind {
	case 'T':
		delete(o.Unresolved, ident)
		fallthrough
	case 't':
		value += o.Text().GetMark(source)
		o.Text().InsertLabel("#"+ident+":", value)
	case 'D':
		delete(o.Unresolved, ident)
		fallthrough
	case 'd':
		value += o.Data().GetMark(source)
		o.Data().InsertLabel("#"+ident+":", value)
	case 'B':
		delete(o.Unresolved, ident)
		fallthrough
	case 'b':
		value += o.Bss().GetMark(source)
		o.Bss().InsertLabel("#"+ident+":", value)
	}

	if kind == 'U' {
		if e, ok := o.SymTab.Get(ident); !ok || !isUpper(e.Kind) {
			o.Unresolved[ident] = struct{}{}
		}
		return nil
	}
	if ident[0] == '.' {
		return nil
	}
	if isLower(kind) {
		entries, _ := o.LocalSymTab.Get(ident)
		o.LocalSymTab.Put(ident, append(entries, SymEntry{kind, value}))
		return nil
	}
	if o.SymTab.Has(ident) {
		return Errorf("multiple definition of `%s", ident)
	}
	o.SymTab.Put(ident, SymEntry{kind, value})
	return nil
}

// readFixupRecord handles one
// "<segment> <hexaddr> <offset-bits> <width-bits> <kind> <ident>[(+|-)disp]"
// line. Bit offsets and widths are byte granular. The queued entry's
// address is mark-adjusted; segment-base pseudo-identifiers fold their
// mark into the displacement.
func (o *ObjectFile) readFixupRecord(line, source string) error {
	fields := strings.Fields(line)
	if len(fields) != 6 {
		return Errorf("bad fixup record %q in %s", line, source)
	}

	segment := fields[0]
	address, err1 := strconv.ParseUint(fields[1], 16, 64)
	offset, err2 := strconv.ParseUint(fields[2], 10, 64)
	numBits, err3 := strconv.ParseUint(fields[3], 10, 64)
	kind := fields[4]
	ident := fields[5]
	if err1 != nil || err2 != nil || err3 != nil {
		return Errorf("bad fixup record %q in %s", line, source)
	}
	if offset%8 != 0 || numBits%8 != 0 || numBits == 0 {
		return Errorf("fixup field in %s is not byte granular: %q", source, line)
	}

	fixInSeg := SegData
	if segment == "text" {
		fixInSeg = SegText
	}
	address += o.Segments[fixInSeg].GetMark(source)

	var displace int64
	sign := strings.IndexAny(ident, "+-")
	if sign >= 0 {
		d, err := strconv.ParseInt(ident[sign:], 10, 64)
		if err != nil {
			return Errorf("bad displacement in fixup %q in %s", line, source)
		}
		displace = d
		ident = ident[:sign]
	}

	switch ident {
	case "[text]":
		displace += int64(o.Text().GetMark(source))
	case "[data]":
		displace += int64(o.Data().GetMark(source))
	case "[bss]":
		displace += int64(o.Bss().GetMark(source))
	}

	entries, _ := o.Fixables.Get(ident)
	o.Fixables.Put(ident, append(entries, FixEntry{
		Segment:  segment,
		Kind:     kind,
		Addr:     address,
		Offset:   offset / 8,
		NumBytes: numBits / 8,
		Displace: displace,
	}))
	return nil
}

func isUpper(ch byte) bool {
	return ch >= 'A' && ch <= 'Z'
}

func isLower(ch byte) bool {
	return ch >= 'a' && ch <= 'z'
}
