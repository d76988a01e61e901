/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package main

import (
	"fmt"
	"os"

	"github.com/padcall/padcall/cmd"
)

func main() {
	cmd.RootCmd.AddCommand(commandServe())
	cmd.RootCmd.AddCommand(commandJoin())
	cmd.RootCmd.AddCommand(commandHealthcheck())

	if err := cmd.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
