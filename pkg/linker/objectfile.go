package linker

import (
	"os"
	"strings"

	"ulmld/pkg/utils"
)

const (
	SegText = iota
	SegData
	SegBss
	numSegments
)

// SymEntry is one symbol table entry: the kind character from the
// object format ('T', 'D', 'B', 'A' for globals, 't', 'd', 'b' for
// locals) and the value, segment-relative until link time.
type SymEntry struct {
	Kind  byte
	Value uint64
}

// FixEntry is one pending relocation. Addr is mark-adjusted but still
// relative to the segment base; Offset and NumBytes are in bytes after
// the object format's bit granularity has been divided out.
type FixEntry struct {
	Segment  string
	Kind     string
	Addr     uint64
	Offset   uint64
	NumBytes uint64
	Displace int64
}

// ObjectFile is the link-wide aggregate: the three segments, the
// global and local symbol tables, the set of still-unresolved
// identifiers, the queued fixups indexed by target identifier, and the
// library search path. One instance exists per link run.
type ObjectFile struct {
	Segments [numSegments]*Segment

	SymTab      *utils.OrderedMap[SymEntry]
	LocalSymTab *utils.OrderedMap[[]SymEntry]
	Unresolved  map[string]struct{}
	Fixables    *utils.OrderedMap[[]FixEntry]

	LibPath []string

	// archives already loaded in full, so that group re-scans do not
	// read their members a second time
	loadedArchives map[string]struct{}
}

func NewObjectFile() *ObjectFile {
	o := &ObjectFile{
		SymTab:         utils.NewOrderedMap[SymEntry](),
		LocalSymTab:    utils.NewOrderedMap[[]SymEntry](),
		Unresolved:     make(map[string]struct{}),
		Fixables:       utils.NewOrderedMap[[]FixEntry](),
		loadedArchives: make(map[string]struct{}),
	}
	for i := range o.Segments {
		o.Segments[i] = NewSegment()
	}

	if env := os.Getenv("ULM_LIBRARY_PATH"); env != "" {
		for _, dir := range strings.Split(env, ":") {
			if dir != "" {
				o.AddLibPath(dir)
			}
		}
	}
	return o
}

func (o *ObjectFile) AddLibPath(dir string) {
	for _, d := range o.LibPath {
		if d == dir {
			return
		}
	}
	o.LibPath = append(o.LibPath, dir)
}

func (o *ObjectFile) Text() *Segment { return o.Segments[SegText] }
func (o *ObjectFile) Data() *Segment { return o.Segments[SegData] }
func (o *ObjectFile) Bss() *Segment  { return o.Segments[SegBss] }

// DumpUnresolved lists the identifiers still waiting for a definition.
func (o *ObjectFile) DumpUnresolved() []string {
	idents := make([]string, 0, len(o.Unresolved))
	for ident := range o.Unresolved {
		idents = append(idents, ident)
	}
	return idents
}
