package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"ulmld/pkg/linker"
	"ulmld/pkg/utils"
)

// Both are intended to be overridden at build time with -ldflags -X:
// ulmPath is the interpreter invoked by the emitted shebang, startCode
// is the generated startup stub in object text form, linked in as the
// first input of every run when present.
var (
	ulmPath   = "ulm"
	startCode string
)

// outputGuard tracks every executable created during this run so that
// a fatal failure leaves no partial output behind.
type outputGuard struct {
	paths []string
}

func (g *outputGuard) Create(name string) (*os.File, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0777)
	if err != nil {
		return nil, linker.Errorf("cannot create '%s'", name)
	}
	g.paths = append(g.paths, name)
	return f, nil
}

func (g *outputGuard) RemoveAll() {
	for _, p := range g.paths {
		os.Remove(p)
	}
}

func usage(cmd string) error {
	return linker.Errorf("usage: %s [options] file...", cmd)
}

func main() {
	cmd := os.Args[0]
	args := os.Args[1:]

	guard := &outputGuard{}
	if err := run(cmd, args, guard); err != nil {
		guard.RemoveAll()
		fmt.Fprintf(os.Stderr, "%s: execution aborted\n%s\n", cmd, err)
		os.Exit(1)
	}
}

func run(cmd string, args []string, guard *outputGuard) error {
	if len(args) < 1 {
		return usage(cmd)
	}

	objectFile := linker.NewObjectFile()

	if startCode != "" {
		err := objectFile.ReadSegments(strings.NewReader(startCode), "call_start")
		if err != nil {
			return err
		}
	}

	// library paths first, so that a -l argument may precede its -L
	for i := 0; i < len(args); i++ {
		if args[i] == "-L" {
			if i+1 >= len(args) {
				return usage(cmd)
			}
			i++
			objectFile.AddLibPath(args[i])
		} else if dir, ok := utils.RemovePrefix(args[i], "-L"); ok {
			objectFile.AddLibPath(dir)
		}
	}

	var out *os.File
	var textBase uint64
	startGroup := -1

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-o":
			if i+1 >= len(args) {
				return usage(cmd)
			}
			i++
			f, err := guard.Create(args[i])
			if err != nil {
				return err
			}
			out = f
		case arg == "-textseg":
			if i+1 >= len(args) {
				return usage(cmd)
			}
			i++
			addr, err := strconv.ParseUint(
				strings.TrimPrefix(args[i], "0x"), 16, 64)
			if err != nil {
				return linker.Errorf("bad -textseg address %s", args[i])
			}
			textBase = addr
		case arg == "-L":
			i++
		case strings.HasPrefix(arg, "-L"):
			// handled above
		case arg == "--start-group" || arg == "-(":
			startGroup = i + 1
		case arg == "--end-group" || arg == "-)":
			if startGroup < 0 {
				return linker.Errorf("missing --start-group or -(")
			}
			group := args[startGroup:i]
			err := linker.Fixpoint(func() (bool, error) {
				progress := false
				for _, g := range group {
					resolved, err := objectFile.AddLibOrObject(g, true)
					if err != nil {
						return false, err
					}
					progress = progress || resolved
				}
				return progress, nil
			})
			if err != nil {
				return err
			}
			startGroup = -1
		default:
			if _, err := objectFile.AddLibOrObject(arg, false); err != nil {
				return err
			}
		}
	}
	if startGroup >= 0 {
		return linker.Errorf("--start-group not terminated with --end-group")
	}

	if out == nil {
		f, err := guard.Create("a.out")
		if err != nil {
			return err
		}
		out = f
	}
	defer out.Close()

	if err := objectFile.Link(textBase); err != nil {
		return err
	}
	objectFile.Print(out, ulmPath, false)
	return nil
}
