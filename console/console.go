// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package console implements the Secure Partition Manager debug console,
// commands are registered with Add and dispatched by Handle to the terminal
// of an SSH session or a local serial console.
package console

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"golang.org/x/term"
)

// ErrUnknownCommand is returned when a line matches no command.
var ErrUnknownCommand = errors.New("unknown command, type `help`")

// Cmd is a console command.
type Cmd struct {
	Name string
	// Args is the number of Pattern submatches passed to Fn.
	Args    int
	Pattern *regexp.Regexp
	Syntax  string
	Help    string
	Fn      func(term *term.Terminal, arg []string) (res string, err error)
}

var (
	mux  sync.Mutex
	cmds = make(map[string]*Cmd)
)

// Add registers a command, a command without Pattern matches its name.
func Add(cmd Cmd) {
	if cmd.Pattern == nil {
		cmd.Pattern = regexp.MustCompile(`^` + regexp.QuoteMeta(cmd.Name) + `$`)
	}

	mux.Lock()
	defer mux.Unlock()

	cmds[cmd.Name] = &cmd
}

func sorted() (list []*Cmd) {
	mux.Lock()
	defer mux.Unlock()

	for _, cmd := range cmds {
		list = append(list, cmd)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})

	return
}

// Help returns the list of registered commands.
func Help(term *term.Terminal) string {
	var help bytes.Buffer

	t := tabwriter.NewWriter(&help, 16, 8, 0, '\t', tabwriter.TabIndent)

	for _, cmd := range sorted() {
		fmt.Fprintf(t, "%s\t%s\t # %s\n", strings.TrimSpace(cmd.Name), cmd.Syntax, cmd.Help)
	}

	t.Flush()

	if term != nil {
		return string(term.Escape.Cyan) + help.String() + string(term.Escape.Reset)
	}

	return help.String()
}

// Handle dispatches a command line, the command output is written to term.
func Handle(term *term.Terminal, line string) (err error) {
	var match *Cmd
	var arg []string

	line = strings.TrimSpace(line)

	if len(line) == 0 {
		return
	}

	for _, cmd := range sorted() {
		m := cmd.Pattern.FindStringSubmatch(line)

		if m == nil || len(m)-1 < cmd.Args {
			continue
		}

		match = cmd
		arg = m[1 : cmd.Args+1]

		break
	}

	if match == nil {
		return ErrUnknownCommand
	}

	res, err := match.Fn(term, arg)

	if len(res) > 0 && term != nil {
		fmt.Fprintln(term, res)
	}

	return
}
