// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bridge

import (
	"encoding/hex"
	"strconv"
	"strings"
)

type kind int

const (
	kindUnknown kind = iota
	kindBlank
	kindInvalid // recognized name, malformed arguments
	kindSearch
	kindRead
	kindWrite
	kindReset
	kindVersion
	kindDebug
)

// command is one parsed request. For kindInvalid, reason holds the text of
// the ERROR response; for kindRead and kindWrite the arguments are already
// validated and decoded.
type command struct {
	kind   kind
	size   int
	data   []byte
	reason string
}

func invalid(reason string) command {
	return command{kind: kindInvalid, reason: reason}
}

// maxTransfer bounds READ and WRITE sizes. It matches the largest EEPROM in
// the supported family, not a protocol limitation.
const maxTransfer = 512

// parseCommand tokenizes one input line. The command name is matched case
// insensitively; hex payloads accept either case. All argument validation
// happens here so the dispatcher only ever sees well-formed requests.
func parseCommand(line string) command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{kind: kindBlank}
	}
	name := strings.ToUpper(fields[0])
	switch name {
	case "SEARCH", "RESET", "VERSION", "DEBUG":
		if len(fields) != 1 {
			return command{kind: kindUnknown}
		}
		switch name {
		case "SEARCH":
			return command{kind: kindSearch}
		case "RESET":
			return command{kind: kindReset}
		case "VERSION":
			return command{kind: kindVersion}
		default:
			return command{kind: kindDebug}
		}
	case "READ":
		if len(fields) != 2 {
			return invalid("Invalid READ command")
		}
		size, ok := parseSize(fields[1])
		if !ok {
			return invalid("Invalid size")
		}
		return command{kind: kindRead, size: size}
	case "WRITE":
		if len(fields) != 3 {
			return invalid("Invalid WRITE command")
		}
		size, ok := parseSize(fields[1])
		if !ok {
			return invalid("Invalid size")
		}
		data, err := hex.DecodeString(fields[2])
		if err != nil {
			return invalid("Invalid hex data")
		}
		if len(data) != size {
			return invalid("Size mismatch")
		}
		return command{kind: kindWrite, size: size, data: data}
	}
	return command{kind: kindUnknown}
}

func parseSize(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > maxTransfer {
		return 0, false
	}
	return n, true
}
