package linker

import (
	"strings"
	"testing"
)

func TestLinkLayout(t *testing.T) {
	o := NewObjectFile()
	read(t, o, `#TEXT 4
0102030405
#DATA 8
AABB
#BSS 16 4
#SYMTAB
T main 0
D greeting 0
B buffer 0
A limit 123
`, "a.o")

	if err := o.Link(0x1000); err != nil {
		t.Fatal(err)
	}

	if got := o.Text().BaseAddr; got != 0x1000 {
		t.Errorf("text base 0x%x, want 0x1000", got)
	}
	// data follows the text end, aligned to the data alignment
	if got := o.Data().BaseAddr; got != 0x1008 {
		t.Errorf("data base 0x%x, want 0x1008", got)
	}
	// text was padded up to the data base
	if got := o.Text().EndAddr(); got != 0x1008 {
		t.Errorf("text end 0x%x, want 0x1008", got)
	}
	if got := o.Bss().BaseAddr; got != 0x1010 {
		t.Errorf("bss base 0x%x, want 0x1010", got)
	}

	for ident, want := range map[string]uint64{
		"main":     0x1000,
		"greeting": 0x1008,
		"buffer":   0x1010,
		"limit":    0x123,
	} {
		if e, _ := o.SymTab.Get(ident); e.Value != want {
			t.Errorf("%s = 0x%x, want 0x%x", ident, e.Value, want)
		}
	}
}

func TestLinkUnalignedTextBase(t *testing.T) {
	o := NewObjectFile()
	read(t, o, "#TEXT 8\n0102030405060708\n", "a.o")
	if err := o.Link(0x1004); err == nil {
		t.Fatal("unaligned text base accepted")
	}
}

func TestRelativeFixupArithmetic(t *testing.T) {
	// jump at address 4 targeting f+8, f at offset 0x10:
	// patched field = (0x10 + 8 - 4) / 4 = 5
	o := NewObjectFile()
	read(t, o, `#TEXT 4
00000000 00000000 00000000 00000000 00000000
#SYMTAB
T f 10
#FIXUPS
text 4 8 24 relative f+8
`, "a.o")

	if err := o.Link(0); err != nil {
		t.Fatal(err)
	}

	var sb strings.Builder
	o.Text().Print(&sb, true)
	// bytes 5..7 hold the 24 bit field
	if got, want := sb.String()[10:16], "000005"; got != want {
		t.Errorf("patched field %s, want %s", got, want)
	}
}

func TestRelativeFixupMisalignedIsFatal(t *testing.T) {
	o := NewObjectFile()
	read(t, o, `#TEXT 4
00000000 00000000
#SYMTAB
T f 6
#FIXUPS
text 0 0 32 relative f
`, "a.o")

	err := o.Link(0)
	if err == nil || !strings.Contains(err.Error(), "multiple of 4") {
		t.Fatalf("got %v, want misaligned relative error", err)
	}
}

func TestWindowFixups(t *testing.T) {
	// a 64 bit value loaded 16 bits at a time through w0..w3
	o := NewObjectFile()
	read(t, o, `#TEXT 4
0000 0000 0000 0000
#SYMTAB
A v 1122334455667788
#FIXUPS
text 0 0 16 w3 v
text 2 0 16 w2 v
text 4 0 16 w1 v
text 6 0 16 w0 v
`, "a.o")

	if err := o.Link(0); err != nil {
		t.Fatal(err)
	}

	var sb strings.Builder
	o.Text().Print(&sb, true)
	if got, want := sb.String(), "1122334455667788\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAbsoluteFixupWithDisplacement(t *testing.T) {
	o := NewObjectFile()
	read(t, o, `#TEXT 8
0000000000000000
#DATA 8
AABBCCDD
#SYMTAB
D tab 0
#FIXUPS
text 0 0 64 absolute tab+4
`, "a.o")

	if err := o.Link(0); err != nil {
		t.Fatal(err)
	}

	// tab sits at the data base 0x8, plus the displacement
	var sb strings.Builder
	o.Text().Print(&sb, true)
	if got, want := sb.String(), "000000000000000C\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestUnresolvedFixupIsFatal(t *testing.T) {
	o := NewObjectFile()
	read(t, o, `#TEXT 4
00000000
#FIXUPS
text 0 0 32 absolute missing
`, "a.o")

	err := o.Link(0)
	if err == nil || !strings.Contains(err.Error(), "unresolved symbol missing") {
		t.Fatalf("got %v, want unresolved symbol error", err)
	}
}

func TestUnsupportedFixupKindIsFatal(t *testing.T) {
	o := NewObjectFile()
	read(t, o, `#TEXT 4
00000000
#SYMTAB
T f 0
#FIXUPS
text 0 0 32 sideways f
`, "a.o")

	err := o.Link(0)
	if err == nil || !strings.Contains(err.Error(), "'sideways'") {
		t.Fatalf("got %v, want unsupported kind error", err)
	}
}

func TestEndToEndLink(t *testing.T) {
	o := NewObjectFile()
	read(t, o, `#TEXT 4
07000000  # jmp main
#SYMTAB
T main 0
#FIXUPS
text 0 8 24 relative [text]
`, "crt.o")
	read(t, o, `#DATA 8
48656C6C6F00
#SYMTAB
D greeting 0
`, "data.o")

	if err := o.Link(0x1000); err != nil {
		t.Fatal(err)
	}

	if got := o.Text().BaseAddr; got != 0x1000 {
		t.Errorf("text base 0x%x, want 0x1000", got)
	}
	if got := o.Data().BaseAddr; got != 0x1008 {
		t.Errorf("data base 0x%x, want 0x1008", got)
	}

	// (textBase - textBase) / 4 == 0
	var sb strings.Builder
	o.Text().Print(&sb, true)
	if !strings.HasPrefix(sb.String(), "07000000") {
		t.Errorf("text dump %q", sb.String())
	}

	var out strings.Builder
	o.Print(&out, "ulm", false)
	lines := out.String()
	if !strings.HasPrefix(lines, "#!/usr/bin/env -S ulm\n") {
		t.Error("missing shebang")
	}
	for _, want := range []string{
		"#TEXT 4\n",
		"#DATA 8\n",
		"#BSS 1 0\n",
		"T main                        0x0000000000001000\n",
		"D greeting                    0x0000000000001008\n",
		"# from: crt.o\n",
		"# from: data.o\n",
	} {
		if !strings.Contains(lines, want) {
			t.Errorf("emitted executable lacks %q", want)
		}
	}
}
