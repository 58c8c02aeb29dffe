// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"debug/elf"
	"debug/gosym"
	"errors"
	"fmt"
	"sync"
)

var (
	debugMutex  sync.Mutex
	debugTarget []byte
	debugTable  *gosym.Table
)

// SetDebugTarget sets the ELF image used to resolve symbols and program
// counters of a Non-secure World OS.
func SetDebugTarget(buf []byte) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	debugTarget = buf
	debugTable = nil
}

// LookupSym returns a symbol of the debug target.
func LookupSym(name string) (*elf.Symbol, error) {
	debugMutex.Lock()
	buf := debugTarget
	debugMutex.Unlock()

	exe, err := elf.NewFile(bytes.NewReader(buf))

	if err != nil {
		return nil, err
	}

	syms, err := exe.Symbols()

	if err != nil {
		return nil, err
	}

	for _, sym := range syms {
		if sym.Name == name {
			return &sym, nil
		}
	}

	return nil, errors.New("symbol not found")
}

func goSymTable(buf []byte) (symTable *gosym.Table, err error) {
	exe, err := elf.NewFile(bytes.NewReader(buf))

	if err != nil {
		return
	}

	text := exe.Section(".text")
	pclntab := exe.Section(".gopclntab")

	if text == nil || pclntab == nil {
		return nil, errors.New("missing Go symbol sections")
	}

	lineTableData, err := pclntab.Data()

	if err != nil {
		return
	}

	lineTable := gosym.NewLineTable(lineTableData, text.Addr)

	var symTableData []byte

	if s := exe.Section(".gosymtab"); s != nil {
		if symTableData, err = s.Data(); err != nil {
			return
		}
	}

	return gosym.NewTable(symTableData, lineTable)
}

// PCToLine resolves a program counter of the debug target to its source
// line.
func PCToLine(pc uint64) (s string, err error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugTable == nil {
		if debugTarget == nil {
			return "", errors.New("no debug target")
		}

		if debugTable, err = goSymTable(debugTarget); err != nil {
			return
		}
	}

	file, line, fn := debugTable.PCToLine(pc)

	if fn == nil {
		return "", fmt.Errorf("unknown pc %#x", pc)
	}

	return fmt.Sprintf("%s:%d %s", file, line, fn.Name), nil
}
