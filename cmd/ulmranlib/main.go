package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"ulmld/pkg/linker"
)

// ulmranlib scans every member of an archive for its #SYMTAB section
// and prints one "kind ident member" line per exported symbol. The
// output is meant to be stored back into the archive as the
// __SYMTAB_INDEX member, which lets ulmld pull members selectively.

func main() {
	cmd := os.Args[0]
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s archive\n", cmd)
		os.Exit(1)
	}

	archive, err := linker.OpenArchive(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: could not open as archive: %s\n", cmd, os.Args[1])
		os.Exit(1)
	}
	defer archive.Close()

	for _, member := range archive.Members() {
		if member.Name == linker.SymtabIndexMember {
			continue
		}
		data, err := archive.Open(member.Name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", cmd, err)
			os.Exit(1)
		}
		printIndex(os.Stdout, data, member.Name)
	}
}

// printIndex emits the exported symbols of one member's #SYMTAB
// section.
func printIndex(w io.Writer, data []byte, member string) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if !strings.HasPrefix(scanner.Text(), "#SYMTAB") {
			continue
		}
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "#FIXUPS") {
				break
			}
			fields := strings.Fields(line)
			if len(fields) < 2 || len(fields[0]) != 1 {
				continue
			}
			kind := fields[0][0]
			if kind >= 'A' && kind <= 'Z' && kind != 'U' {
				fmt.Fprintf(w, "%c %-27s %s\n", kind, fields[1], member)
			}
		}
		break
	}
}
