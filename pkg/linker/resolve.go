package linker

import (
	"bufio"
	"bytes"
	"os"
	"strings"

	"ulmld/pkg/utils"
)

// SymtabIndexMember is the archive member holding the precomputed
// symbol index written by ulmranlib, one "kind ident member" line per
// exported identifier.
const SymtabIndexMember = "__SYMTAB_INDEX"

// Fixpoint repeatedly runs pass until a full pass reports no progress.
// Both the indexed-archive pull and the group bracket re-scan are
// instances of it.
func Fixpoint(pass func() (bool, error)) error {
	for {
		progress, err := pass()
		if err != nil {
			return err
		}
		if !progress {
			return nil
		}
	}
}

// FindLibrary resolves a "-lname" argument against the search path.
func (o *ObjectFile) FindLibrary(name string) (string, bool) {
	for _, dir := range o.LibPath {
		path := dir + "/lib" + name + ".a"
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// AddLibOrObject processes one input argument: a "-lname" library, an
// archive, or a plain object file. With onlyLibs set (group re-scans)
// non-archives are skipped. The returned flag reports whether an
// indexed archive pulled at least one member, i.e. whether the caller
// made progress toward resolving symbols.
func (o *ObjectFile) AddLibOrObject(file string, onlyLibs bool) (bool, error) {
	var archive *Archive

	if name, ok := utils.RemovePrefix(file, "-l"); ok {
		path, found := o.FindLibrary(name)
		if found {
			a, err := OpenArchive(path)
			if err != nil {
				return false, err
			}
			archive = a
			file = path
		}
	} else {
		if a, err := OpenArchive(file); err == nil {
			archive = a
		}
	}

	if archive == nil {
		if onlyLibs {
			return false, nil
		}
		in, err := os.Open(file)
		if err != nil {
			if strings.HasPrefix(file, "-l") {
				return false, Errorf("can not find %s", file)
			}
			return false, Errorf("can not open %s", file)
		}
		defer in.Close()
		return false, o.ReadSegments(in, file)
	}
	defer archive.Close()

	index, err := archive.Open(SymtabIndexMember)
	if err != nil {
		// no index: the whole archive is linked in, once
		if _, done := o.loadedArchives[file]; done {
			return false, nil
		}
		o.loadedArchives[file] = struct{}{}
		for _, member := range archive.Members() {
			data, err := archive.Open(member.Name)
			if err != nil {
				return false, err
			}
			name := file + "(" + member.Name + ")"
			if err := o.ReadSegments(bytes.NewReader(data), name); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	resolved := false
	err = Fixpoint(func() (bool, error) {
		member, ok := o.scanSymtabIndex(index)
		if !ok {
			return false, nil
		}
		data, err := archive.Open(member)
		if err != nil {
			return false, err
		}
		name := file + "(" + member + ")"
		if err := o.ReadSegments(bytes.NewReader(data), name); err != nil {
			return false, err
		}
		resolved = true
		return true, nil
	})
	return resolved, err
}

// scanSymtabIndex returns the first indexed member whose identifier is
// currently unresolved. Every pull restarts the scan from the top,
// since reading a member may queue new unresolved references.
func (o *ObjectFile) scanSymtabIndex(index []byte) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(index))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		ident, member := fields[1], fields[2]
		if _, ok := o.Unresolved[ident]; ok {
			return member, true
		}
	}
	return "", false
}
