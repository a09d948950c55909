// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Output styling for the handful of human-facing lines this CLI prints:
// pass/fail banners and erase/write progress. No bubbletea event loop sits
// behind this — every command here is a one-shot request/response against
// the Session, so there is nothing to run a render loop over.
var (
	okStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#10B981"))

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#EF4444"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF"))
)

func printOK(format string, args ...interface{}) {
	fmt.Println(okStyle.Render("OK") + "  " + fmt.Sprintf(format, args...))
}

func printFail(format string, args ...interface{}) {
	fmt.Println(failStyle.Render("FAIL") + "  " + fmt.Sprintf(format, args...))
}

func printWarn(format string, args ...interface{}) {
	fmt.Println(warnStyle.Render("warn") + " " + fmt.Sprintf(format, args...))
}

func printLabel(label, value string) {
	fmt.Println(labelStyle.Render(label+":") + " " + value)
}
