// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command llrf-sh is an interactive shell driving an LLRF board.
//
// Usage: llrf-sh [OPTIONS]
//
// Example:
//
//	$> llrf-sh -board=192.168.0.142:9842
//	llrf> read AmpControl
//	llrf> write PhaseShiftCav 45
//	llrf> itck set Arc Fdltrg 1
//	llrf> quit
package main // import "github.com/go-lpc/llrf/cmd/llrf-sh"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf"
	"github.com/go-lpc/llrf/internal/config"
	"github.com/go-lpc/llrf/internal/setup"
	"github.com/go-lpc/llrf/sigmap"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("llrf-sh: ")
	log.SetFlags(0)

	var (
		fname = flag.String("cfg", "", "path to llrf.toml configuration file")
		board = flag.String("board", "", "board agent address, or \"local\" (overrides configuration)")
	)

	flag.Parse()

	cfg, err := config.Load(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}
	if *board != "" {
		cfg.Board.Addr = *board
	}

	err = run(cfg)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(cfg config.Config) error {
	msg := tlog.NewMsgStream("llrf-sh", tlog.LvlWarning, os.Stderr)
	brd, err := setup.Open(cfg, msg)
	if err != nil {
		return fmt.Errorf("could not open board: %w", err)
	}
	defer brd.Core.Close()

	sh := newShell(brd.Core, os.Stdout)

	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	hist := filepath.Join(os.TempDir(), ".llrf-sh.history")
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("llrf> ")
		switch {
		case err == nil:
		case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
			return nil
		default:
			return fmt.Errorf("could not read command: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(line)
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			return nil
		case errors.Is(err, llrf.ErrTransportUnavailable):
			if rerr := brd.Redial(); rerr != nil {
				fmt.Fprintf(sh.w, "error: %v (redial: %v)\n", err, rerr)
				continue
			}
			fmt.Fprintf(sh.w, "error: %v (link re-established)\n", err)
		default:
			fmt.Fprintf(sh.w, "error: %v\n", err)
		}
	}
}

var errQuit = errors.New("quit")

type shell struct {
	core *llrf.Core
	w    io.Writer
	cmds map[string]command
}

type command struct {
	help string
	run  func(cav llrf.Cavity, args []string) error
}

func newShell(core *llrf.Core, w io.Writer) *shell {
	sh := &shell{core: core, w: w}
	sh.cmds = map[string]command{
		"read":                   {"read NAME", sh.read},
		"write":                  {"write NAME VALUE", sh.write},
		"snap":                   {"snap: acquire diagnostics", sh.snap},
		"fdl":                    {"fdl [FILE]: run a fast data logger capture", sh.fdl},
		"fdl-reset":              {"fdl-reset: clear a failed capture", sh.fdlReset},
		"itck":                   {"itck get|set SOURCE REACTION [0|1] | itck update", sh.itck},
		"sel":                    {"sel [N]: show or set the interlock status selector", sh.sel},
		"names":                  {"names [PREFIX]", sh.names},
		"reset-tuning":           {"reset-tuning", sh.pulse((*llrf.Core).ResetTuning)},
		"reset-interlocks":       {"reset-interlocks", sh.pulse((*llrf.Core).ResetInterlocks)},
		"reset-manual-interlock": {"reset-manual-interlock", sh.pulse((*llrf.Core).ResetManualInterlock)},
		"help":                   {"help", sh.help},
		"quit":                   {"quit", func(llrf.Cavity, []string) error { return errQuit }},
	}
	return sh
}

// exec runs a single command line.
// Commands accept an optional leading -cav=A|B flag.
func (sh *shell) exec(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	name := args[0]
	cmd, ok := sh.cmds[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", name)
	}

	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	cavName := fset.String("cav", "A", "cavity (A or B)")
	err := fset.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	cav, err := llrf.ParseCavity(*cavName)
	if err != nil {
		return err
	}
	return cmd.run(cav, fset.Args())
}

func (sh *shell) complete(line string) []string {
	var (
		fields = strings.Fields(line)
		prefix string
		head   string
	)
	if len(fields) > 0 && !strings.HasSuffix(line, " ") {
		prefix = fields[len(fields)-1]
		head = line[:len(line)-len(prefix)]
	} else {
		head = line
	}

	var cands []string
	if len(fields) == 0 || (len(fields) == 1 && prefix != "") {
		for name := range sh.cmds {
			cands = append(cands, name)
		}
	} else {
		cands = sh.core.Map().Names()
	}
	sort.Strings(cands)

	var out []string
	for _, c := range cands {
		if strings.HasPrefix(c, prefix) {
			out = append(out, head+c)
		}
	}
	return out
}

func (sh *shell) read(cav llrf.Cavity, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: read NAME")
	}
	v, err := sh.core.Read(args[0], cav)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "%s[%v] = %v\n", args[0], cav, v)
	return nil
}

func (sh *shell) write(cav llrf.Cavity, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: write NAME VALUE")
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	return sh.core.Write(args[0], cav, v)
}

func (sh *shell) snap(cav llrf.Cavity, args []string) error {
	vs, err := sh.core.Snapshot(cav)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(vs))
	for name := range vs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(sh.w, "%-32s %v\n", name, vs[name])
	}
	if srcs := llrf.Tripped(vs); len(srcs) > 0 {
		fmt.Fprintf(sh.w, "tripped: %v\n", srcs)
	}
	return nil
}

func (sh *shell) fdl(_ llrf.Cavity, args []string) error {
	var path string
	switch len(args) {
	case 0:
	case 1:
		path = args[0]
	default:
		return fmt.Errorf("usage: fdl [FILE]")
	}
	err := sh.core.RunFDL(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "fdl: %v\n", sh.core.FDLState())
	return nil
}

func (sh *shell) fdlReset(llrf.Cavity, []string) error {
	return sh.core.ResetFDL()
}

func (sh *shell) itck(cav llrf.Cavity, args []string) error {
	if len(args) == 1 && args[0] == "update" {
		return sh.core.UpdateAll(cav)
	}
	if len(args) < 3 {
		return fmt.Errorf("usage: itck get|set SOURCE REACTION [0|1]")
	}
	src, err := sigmap.ParseSource(args[1])
	if err != nil {
		return err
	}
	r, err := sigmap.ParseReaction(args[2])
	if err != nil {
		return err
	}

	switch args[0] {
	case "get":
		v, err := sh.core.GetDisable(cav, src, r)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.w, "%s[%v] = %v\n", sigmap.DisableName(src, r), cav, v)
		return nil
	case "set":
		if len(args) != 4 {
			return fmt.Errorf("usage: itck set SOURCE REACTION 0|1")
		}
		v, err := strconv.ParseBool(args[3])
		if err != nil {
			return fmt.Errorf("invalid disable bit %q: %w", args[3], err)
		}
		return sh.core.SetDisable(cav, src, r, v)
	}
	return fmt.Errorf("unknown itck command %q", args[0])
}

func (sh *shell) sel(_ llrf.Cavity, args []string) error {
	switch len(args) {
	case 0:
		fmt.Fprintf(sh.w, "selector = %d\n", sh.core.InterlockSelector())
		return nil
	case 1:
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid selector %q: %w", args[0], err)
		}
		return sh.core.SetInterlockSelector(n)
	}
	return fmt.Errorf("usage: sel [N]")
}

func (sh *shell) names(_ llrf.Cavity, args []string) error {
	var prefix string
	if len(args) > 0 {
		prefix = args[0]
	}
	for _, name := range sh.core.Map().Names() {
		if strings.HasPrefix(name, prefix) {
			fmt.Fprintln(sh.w, name)
		}
	}
	return nil
}

func (sh *shell) pulse(f func(*llrf.Core, llrf.Cavity) error) func(llrf.Cavity, []string) error {
	return func(cav llrf.Cavity, _ []string) error {
		return f(sh.core, cav)
	}
}

func (sh *shell) help(llrf.Cavity, []string) error {
	names := make([]string, 0, len(sh.cmds))
	for name := range sh.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(sh.w, "  %s\n", sh.cmds[name].help)
	}
	fmt.Fprintf(sh.w, "commands accept -cav=A|B before their arguments.\n")
	return nil
}
