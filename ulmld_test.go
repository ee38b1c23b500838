package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeObject(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunLinksExecutable(t *testing.T) {
	dir := t.TempDir()
	crt := writeObject(t, dir, "crt.o", `#TEXT 4
07000000  # jmp main
#SYMTAB
T main 0
#FIXUPS
text 0 8 24 relative main
`)
	data := writeObject(t, dir, "data.o", `#DATA 8
48656C6C6F00
#SYMTAB
D greeting 0
`)
	out := filepath.Join(dir, "prog")

	guard := &outputGuard{}
	err := run("ulmld", []string{"-o", out, "-textseg", "0x1000", crt, data}, guard)
	if err != nil {
		t.Fatal(err)
	}

	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	text := string(content)
	if !strings.HasPrefix(text, "#!/usr/bin/env -S ulm\n") {
		t.Errorf("missing shebang, got %q", text[:30])
	}
	if !strings.Contains(text, "T main                        0x0000000000001000\n") {
		t.Error("main not placed at the requested text base")
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&0100 == 0 {
		t.Errorf("output not executable, mode %v", info.Mode())
	}
}

func TestRunRemovesOutputOnFailure(t *testing.T) {
	dir := t.TempDir()
	obj := writeObject(t, dir, "bad.o", `#TEXT 4
00000000
#FIXUPS
text 0 0 32 absolute missing
`)
	out := filepath.Join(dir, "prog")

	guard := &outputGuard{}
	err := run("ulmld", []string{"-o", out, obj}, guard)
	if err == nil {
		t.Fatal("link with an unresolved fixup succeeded")
	}
	guard.RemoveAll()

	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("partial output left behind: %v", err)
	}
}

func TestRunGroupBracketErrors(t *testing.T) {
	dir := t.TempDir()
	obj := writeObject(t, dir, "a.o", "#TEXT 4\n00000000\n")

	guard := &outputGuard{}
	err := run("ulmld", []string{"--start-group", obj}, guard)
	if err == nil || !strings.Contains(err.Error(), "--start-group not terminated") {
		t.Errorf("got %v, want unterminated group error", err)
	}
	guard.RemoveAll()

	guard = &outputGuard{}
	err = run("ulmld", []string{"--end-group"}, guard)
	if err == nil || !strings.Contains(err.Error(), "missing --start-group") {
		t.Errorf("got %v, want missing start error", err)
	}
	guard.RemoveAll()
}

func TestRunLibrarySearchPath(t *testing.T) {
	dir := t.TempDir()
	// a tiny unindexed library and a main object that needs it
	lib := filepath.Join(dir, "libdemo.a")
	member := "#TEXT 4\n01010101\n#SYMTAB\nT helper 0\n"
	var ar strings.Builder
	ar.WriteString("!<arch>\n")
	fmt.Fprintf(&ar, "%-16s%-12d%-6d%-6d%-8o%-10d`\n", "m.o/", 0, 0, 0, 0o644, len(member))
	ar.WriteString(member)
	if len(member)%2 == 1 {
		ar.WriteString("\n")
	}
	if err := os.WriteFile(lib, []byte(ar.String()), 0644); err != nil {
		t.Fatal(err)
	}

	obj := writeObject(t, dir, "main.o", `#TEXT 4
00000000
#SYMTAB
T main 0
U helper
#FIXUPS
text 0 0 32 absolute helper
`)
	out := filepath.Join(dir, "prog")

	guard := &outputGuard{}
	err := run("ulmld", []string{"-L", dir, "-o", out, obj, "-ldemo"}, guard)
	if err != nil {
		t.Fatal(err)
	}

	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "T helper") {
		t.Error("library member not linked in")
	}
}
