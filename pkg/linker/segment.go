package linker

import (
	"encoding/hex"
	"fmt"
	"io"

	"ulmld/pkg/utils"
)

const fillByte = 0xFD

// Segment accumulates the bytes of one output region (text, data or
// bss) from many input sources. Content only ever grows, or is patched
// in place once final addresses are known. Marks remember where each
// source's contribution begins so that records and fixups can use
// source-relative addresses. Annotations, labels and headers carry the
// human-readable parts of the emitted dump.
type Segment struct {
	Alignment uint64
	BaseAddr  uint64

	mem        []byte
	annotation map[uint64]string
	label      map[uint64][]string
	header     map[uint64][]string
	mark       map[string]uint64
}

func NewSegment() *Segment {
	return &Segment{
		Alignment:  1,
		annotation: make(map[uint64]string),
		label:      make(map[uint64][]string),
		header:     make(map[uint64][]string),
		mark:       make(map[string]uint64),
	}
}

func (s *Segment) Size() uint64 {
	return uint64(len(s.mem))
}

func (s *Segment) EndAddr() uint64 {
	return s.BaseAddr + s.Size()
}

// SetAlignment raises the alignment to max(current, a) and pads the
// current end up to it. The base address, once assigned, must already
// be a multiple of a.
func (s *Segment) SetAlignment(a uint64) {
	utils.Assert(a > 0 && s.BaseAddr%a == 0)

	if a > s.Alignment {
		s.Alignment = a
	}
	s.AdvanceTo(s.BaseAddr + utils.AlignTo(s.Size(), s.Alignment))
}

// SetBaseAddr assigns the final base address, once, during link.
func (s *Segment) SetBaseAddr(addr uint64) error {
	if addr%s.Alignment != 0 {
		return Errorf("base address 0x%x not aligned to %d", addr, s.Alignment)
	}
	s.BaseAddr = addr
	return nil
}

func (s *Segment) SetMark(source string) {
	s.mark[source] = s.Size()
}

// GetMark returns the absolute address at which the source's
// contribution begins.
func (s *Segment) GetMark(source string) uint64 {
	return s.BaseAddr + s.mark[source]
}

func (s *Segment) IsAtMark(source string) bool {
	return s.mark[source] == s.Size()
}

// AdvanceTo pads with the fill byte so that the next byte will be
// appended at addr. Moving backward is a caller bug.
func (s *Segment) AdvanceTo(addr uint64) {
	addr -= s.BaseAddr
	utils.Assert(addr >= s.Size())

	padded := addr > s.Size()
	for addr > s.Size() {
		s.mem = append(s.mem, fillByte)
	}
	if padded {
		s.AppendAnnotation("      (ulmld: padding for alignment)")
	}
}

func (s *Segment) RequiresAdvanceTo(addr uint64) bool {
	return addr-s.BaseAddr > s.Size()
}

// PatchBytes writes numBytes bytes of value at addr, most significant
// byte first.
func (s *Segment) PatchBytes(addr, numBytes, value uint64) {
	addr -= s.BaseAddr
	for i := numBytes; i > 0; i-- {
		s.writeByte(addr+i-1, byte(value))
		value >>= 8
	}
}

// InsertByteString decodes a run of hex digit pairs and writes them at
// addr, padding up to addr first if necessary.
func (s *Segment) InsertByteString(addr uint64, hexDigits string) error {
	if s.RequiresAdvanceTo(addr) {
		s.AdvanceTo(addr)
	}
	addr -= s.BaseAddr

	if len(hexDigits)%2 != 0 {
		return Errorf("odd number of hex digits in %q", hexDigits)
	}
	decoded, err := hex.DecodeString(hexDigits)
	if err != nil {
		return Errorf("not in hex format or corrupted: %q", hexDigits)
	}
	for i, b := range decoded {
		s.writeByte(addr+uint64(i), b)
	}
	return nil
}

func (s *Segment) writeByte(offset uint64, b byte) {
	utils.Assert(offset <= s.Size())
	if offset == s.Size() {
		s.mem = append(s.mem, b)
	} else {
		s.mem[offset] = b
	}
}

// AppendAnnotation attaches text to the most recently written byte.
func (s *Segment) AppendAnnotation(text string) {
	addr := s.Size()
	if addr > 0 {
		addr--
	}
	s.InsertAnnotation(text, s.BaseAddr+addr)
}

func (s *Segment) InsertAnnotation(text string, addr uint64) {
	addr -= s.BaseAddr
	if _, ok := s.annotation[addr]; ok {
		s.annotation[addr] += ", " + text
	} else {
		s.annotation[addr] = "# " + text
	}
}

func (s *Segment) InsertLabel(text string, addr uint64) {
	addr -= s.BaseAddr
	s.label[addr] = append(s.label[addr], text)
}

// AppendHeader emits text before the next byte to be written.
func (s *Segment) AppendHeader(text string) {
	s.header[s.Size()] = append(s.header[s.Size()], text)
}

// Print dumps the segment contents. In the annotated form each line
// starts with the absolute address, bytes are grouped four to a line,
// and annotations, labels and provenance headers are interleaved. With
// strip set only the bare hex digits are written.
func (s *Segment) Print(w io.Writer, strip bool) {
	size := s.Size()
	for i := uint64(0); i < size; i++ {
		if !strip {
			for _, h := range s.header[i] {
				fmt.Fprintln(w, h)
			}
			for _, l := range s.label[i] {
				fmt.Fprintln(w, l)
			}
			addr := i + s.BaseAddr
			fmt.Fprintf(w, "0x%016X: ", addr)
			if addr%4 != 0 {
				fmt.Fprintf(w, "%*s", int(3*(addr%4)), " ")
			}
		}
		for ; i < size; i++ {
			fmt.Fprintf(w, "%02X", s.mem[i])
			if strip {
				continue
			}
			fmt.Fprint(w, " ")
			addr := i + s.BaseAddr
			if a, ok := s.annotation[i]; ok {
				if addr%4 != 3 {
					fmt.Fprintf(w, "%*s", int(3*(3-addr%4)), " ")
				}
				fmt.Fprintln(w, a)
				break
			}
			if len(s.header[i+1]) > 0 || len(s.label[i+1]) > 0 {
				fmt.Fprintln(w)
				break
			}
			if addr%4 == 3 {
				fmt.Fprintf(w, "\n%*s", 20, " ")
			}
		}
	}
	if size > 0 {
		if _, ok := s.annotation[size-1]; !ok {
			fmt.Fprintln(w)
		}
	}
	for _, h := range s.header[size] {
		fmt.Fprintln(w, h)
	}
}
