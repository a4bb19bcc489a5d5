package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"

	"subatomic/internal/ledger"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
	muted   = color.New(color.FgHiBlack)
)

func printHeader(text string) {
	accent.Printf("== %s ==\n", text)
}

func printSuccess(format string, args ...any) {
	success.Printf(format+"\n", args...)
}

func printWarn(format string, args ...any) {
	warn.Printf(format+"\n", args...)
}

func printError(format string, args ...any) {
	danger.Fprintf(color.Error, "error: "+format+"\n", args...)
}

func printMuted(format string, args ...any) {
	muted.Printf(format+"\n", args...)
}

func printEntry(rank int, userID string, photons, fission int64) {
	neutral.Printf("%2d. %s  photons=%d fission=%d\n", rank, userID, photons, fission)
}

func printRecord(rec ledger.Record) {
	fields := make([]string, 0, len(rec.Num))
	for field := range rec.Num {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		neutral.Printf("  %s = %d\n", field, rec.Num[field])
	}
	texts := make([]string, 0, len(rec.Text))
	for field := range rec.Text {
		texts = append(texts, field)
	}
	sort.Strings(texts)
	for _, field := range texts {
		neutral.Printf("  %s = %q\n", field, rec.Text[field])
	}
	if len(fields)+len(texts) == 0 {
		fmt.Println("  (empty)")
	}
}
