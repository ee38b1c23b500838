package linker

import (
	"strings"
	"testing"
)

func TestSegmentAlignmentPadsAndNeverDecreases(t *testing.T) {
	seg := NewSegment()
	if err := seg.InsertByteString(0, "AABBCC"); err != nil {
		t.Fatal(err)
	}

	seg.SetAlignment(8)
	if seg.Alignment != 8 {
		t.Fatalf("got alignment %d, want 8", seg.Alignment)
	}
	if seg.Size()%8 != 0 {
		t.Errorf("size %d not padded to alignment 8", seg.Size())
	}

	// a smaller alignment must not lower the stored one
	seg.SetAlignment(2)
	if seg.Alignment != 8 {
		t.Errorf("alignment decreased to %d", seg.Alignment)
	}
}

func TestSegmentMarks(t *testing.T) {
	seg := NewSegment()
	seg.SetMark("a.o")
	if !seg.IsAtMark("a.o") {
		t.Fatal("fresh mark not at current position")
	}
	if err := seg.InsertByteString(0, "0102"); err != nil {
		t.Fatal(err)
	}
	if seg.IsAtMark("a.o") {
		t.Error("mark still current after writing bytes")
	}

	seg.SetMark("b.o")
	if seg.GetMark("b.o") != 2 {
		t.Errorf("got mark %d, want 2", seg.GetMark("b.o"))
	}
}

func TestSegmentAdvanceToFills(t *testing.T) {
	seg := NewSegment()
	if err := seg.InsertByteString(0, "11"); err != nil {
		t.Fatal(err)
	}
	seg.AdvanceTo(4)
	if seg.Size() != 4 {
		t.Fatalf("got size %d, want 4", seg.Size())
	}

	// the padding annotation sits on the final byte, which suppresses
	// the trailing newline of the dump
	var sb strings.Builder
	seg.Print(&sb, true)
	if got, want := sb.String(), "11FDFDFD"; got != want {
		t.Errorf("got stripped dump %q, want %q", got, want)
	}
}

func TestSegmentPatchBytesBigEndian(t *testing.T) {
	seg := NewSegment()
	if err := seg.InsertByteString(0, "0000000000000000"); err != nil {
		t.Fatal(err)
	}
	seg.PatchBytes(2, 4, 0x11223344)

	var sb strings.Builder
	seg.Print(&sb, true)
	if got, want := sb.String(), "0000112233440000\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSegmentInsertByteStringRejectsBadHex(t *testing.T) {
	seg := NewSegment()
	if err := seg.InsertByteString(0, "0X"); err == nil {
		t.Error("bad hex digits accepted")
	}
	if err := seg.InsertByteString(0, "012"); err == nil {
		t.Error("odd digit count accepted")
	}
}
