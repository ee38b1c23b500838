package linker

import (
	"math"

	"golang.org/x/sys/unix"
)

// Reader for the common portable archive format ("!<arch>\n"). All meta
// information in the format is printable, so the reader is independent
// of host endianness. Long member names live in a string table member
// named "//", the ranlib symbol table is the member with an empty name.

const (
	arMagic      = "!<arch>\n"
	arHeaderSize = 60
	arFmag       = "`\n"
)

type ArchiveMember struct {
	Name  string
	Mtime uint32
	Uid   uint32
	Gid   uint32
	Mode  uint32
	Size  uint32

	// payload range within the mapped file
	start int
}

type Archive struct {
	Path string

	fd   int
	data []byte

	members  []*ArchiveMember
	byName   map[string]*ArchiveMember
	symtable []byte
}

// OpenArchive memory-maps path and scans the member directory. It
// returns an error if the file is missing, not a regular file, too
// large to map, lacks the archive magic, or has a corrupt directory.
func OpenArchive(path string) (*Archive, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, Errorf("can not open %s", path)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil || st.Mode&unix.S_IFMT != unix.S_IFREG {
		unix.Close(fd)
		return nil, Errorf("%s is not a regular file", path)
	}
	if uint64(st.Size) > uint64(math.MaxInt) {
		unix.Close(fd)
		return nil, Errorf("%s is too large to map", path)
	}

	data := []byte{}
	if st.Size > 0 {
		data, err = unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			unix.Close(fd)
			return nil, Errorf("can not map %s", path)
		}
	}

	a := &Archive{
		Path:   path,
		fd:     fd,
		data:   data,
		byName: make(map[string]*ArchiveMember),
	}
	if len(data) < len(arMagic) || string(data[:len(arMagic)]) != arMagic {
		a.Close()
		return nil, Errorf("%s is not an archive", path)
	}
	if err := a.scan(); err != nil {
		a.Close()
		return nil, Wrap(err, "corrupt archive %s", path)
	}
	return a, nil
}

// Close releases the mapping and the descriptor. Member byte views
// obtained from this archive are invalid afterwards.
func (a *Archive) Close() {
	if a.fd >= 0 {
		if len(a.data) > 0 {
			unix.Munmap(a.data)
		}
		unix.Close(a.fd)
		a.fd = -1
		a.data = nil
		a.members = nil
		a.byName = nil
		a.symtable = nil
	}
}

// Members returns the regular members in on-disk order. The string
// table and the symbol table are not included.
func (a *Archive) Members() []*ArchiveMember {
	return a.members
}

// Open returns the payload of the named member.
func (a *Archive) Open(name string) ([]byte, error) {
	m, ok := a.byName[name]
	if !ok {
		return nil, Errorf("no archive member %s", name)
	}
	return a.data[m.start : m.start+int(m.Size)], nil
}

// OpenSymtab returns the payload of the symbol table member.
func (a *Archive) OpenSymtab() ([]byte, error) {
	if a.symtable == nil {
		return nil, NewError("archive has no symbol table")
	}
	return a.symtable, nil
}

func (a *Archive) scan() error {
	var strTab []byte

	pos := len(arMagic)
	for pos+arHeaderSize <= len(a.data) {
		hdr := a.data[pos : pos+arHeaderSize]
		if string(hdr[58:60]) != arFmag {
			return AddrError(uint64(pos), "bad member header terminator")
		}

		size, ok := arNumeric(hdr[48:58], 10)
		if !ok {
			return AddrError(uint64(pos), "bad member size field")
		}

		dataStart := pos + arHeaderSize
		if dataStart+int(size) > len(a.data) {
			return AddrError(uint64(pos), "member overruns archive")
		}
		payload := a.data[dataStart : dataStart+int(size)]

		if hdr[0] == '/' && hdr[1] == '/' {
			// long-name string table, must precede all members
			if len(a.members) > 0 || strTab != nil {
				return AddrError(uint64(pos), "misplaced string table")
			}
			strTab = payload
		} else {
			name, err := arName(hdr[0:16], strTab)
			if err != nil {
				return Wrap(err, "bad member name at 0x%x", pos)
			}

			mtime, ok1 := arNumeric(hdr[16:28], 10)
			uid, ok2 := arNumeric(hdr[28:34], 10)
			gid, ok3 := arNumeric(hdr[34:40], 10)
			mode, ok4 := arNumeric(hdr[40:48], 8)
			if !(ok1 && ok2 && ok3 && ok4) {
				return AddrError(uint64(pos), "bad member header field")
			}

			if name == "" {
				// ranlib symbol table
				if a.symtable != nil {
					return AddrError(uint64(pos), "duplicate symbol table")
				}
				a.symtable = payload
			} else {
				if _, dup := a.byName[name]; dup {
					return Errorf("duplicate archive member %s", name)
				}
				m := &ArchiveMember{
					Name:  name,
					Mtime: mtime,
					Uid:   uid,
					Gid:   gid,
					Mode:  mode,
					Size:  size,
					start: dataStart,
				}
				a.members = append(a.members, m)
				a.byName[name] = m
			}
		}

		pos = dataStart + int(size)
		if size%2 == 1 {
			pos++
		}
	}

	// headers and payloads must tile the file exactly
	if pos != len(a.data) {
		return NewError("trailing garbage in archive")
	}
	return nil
}

// arNumeric parses a printable header field: leading spaces, a digit
// run, then only space padding. Some fields can overflow 32 bits while
// scanning, so the accumulator is 64 bits wide and checked afterwards.
func arNumeric(field []byte, base uint32) (uint32, bool) {
	var val uint64
	skip := true
	padding := false
	for _, ch := range field {
		if skip {
			if ch == ' ' {
				continue
			}
			skip = false
		}
		if padding {
			if ch != ' ' {
				return 0, false
			}
			continue
		}
		if ch == ' ' {
			padding = true
			continue
		}
		if ch < '0' || ch > '9' {
			return 0, false
		}
		digit := uint32(ch - '0')
		if digit >= base {
			return 0, false
		}
		val = val*uint64(base) + uint64(digit)
	}
	if skip {
		return 0, false
	}
	if val > math.MaxUint32 {
		return 0, false
	}
	return uint32(val), true
}

// arName decodes the 16-byte name field. "/<decimal>" is a reference
// into the string table, where the entry must be terminated by "/\n".
// Otherwise the name runs up to a terminating '/' or, for the BSD
// variant, up to the trailing blank padding. An empty name is reserved
// for the symbol table member.
func arName(field []byte, strTab []byte) (string, error) {
	if field[0] == '/' && field[1] != ' ' {
		if strTab == nil {
			return "", NewError("long name without string table")
		}
		offset, ok := arOffset(field[1:])
		if !ok || int(offset) >= len(strTab) {
			return "", NewError("bad string table offset")
		}
		nameLen := 0
		for i := int(offset); i+1 < len(strTab); i++ {
			if strTab[i] == '/' {
				if i == int(offset) || strTab[i+1] != '\n' {
					return "", NewError("bad string table entry")
				}
				nameLen = i - int(offset)
				break
			}
		}
		if nameLen == 0 {
			return "", NewError("unterminated string table entry")
		}
		return string(strTab[offset : int(offset)+nameLen]), nil
	}

	blank := 0
	i := 0
	for ; i < len(field); i++ {
		ch := field[i]
		if ch == '/' {
			break
		}
		if ch != ' ' {
			blank = 0
		} else if blank == 0 {
			blank = i
		}
	}

	switch {
	case i < len(field):
		return string(field[:i]), nil
	case blank > 0:
		// no trailing '/', possibly BSD variant
		return string(field[:blank]), nil
	default:
		return "", NewError("unterminated member name")
	}
}

func arOffset(field []byte) (uint32, bool) {
	var val uint64
	for i, ch := range field {
		if ch == ' ' {
			if i == 0 {
				return 0, false
			}
			break
		}
		if ch < '0' || ch > '9' {
			return 0, false
		}
		val = val*10 + uint64(ch-'0')
	}
	if val > math.MaxUint32 {
		return 0, false
	}
	return uint32(val), true
}
