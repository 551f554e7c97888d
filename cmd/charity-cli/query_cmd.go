package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

func runAccount(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("account", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var addr, keyFile string
	fs.StringVar(&addr, "addr", "", "bech32 address to inspect")
	fs.StringVar(&keyFile, "key", "", "signing key file whose address to inspect")
	if !parseFlags(fs, args) {
		return 1
	}
	target := strings.TrimSpace(addr)
	if target == "" && strings.TrimSpace(keyFile) != "" {
		key, err := loadPrivateKey(keyFile)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		target = key.PubKey().Address().String()
	}
	if target == "" {
		fmt.Fprintln(stderr, "Error: --addr or --key is required")
		return 1
	}
	return callAndPrint("charity_getAccount", []interface{}{target}, false, stdout, stderr)
}

func runOwner(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("owner", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if !parseFlags(fs, args) {
		return 1
	}
	return callAndPrint("charity_owner", nil, false, stdout, stderr)
}

func runFund(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fund", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var addr, amount string
	fs.StringVar(&addr, "addr", "", "bech32 address to credit")
	fs.StringVar(&amount, "amount", "", "amount to credit")
	if !parseFlags(fs, args) {
		return 1
	}
	target := strings.TrimSpace(addr)
	if target == "" {
		fmt.Fprintln(stderr, "Error: --addr is required")
		return 1
	}
	value, err := parseAmount(amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return callAndPrint("admin_fundAccount", []interface{}{target, value.String()}, true, stdout, stderr)
}

func runCharity(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("charity", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var charityID string
	fs.StringVar(&charityID, "id", "", "charity id")
	if !parseFlags(fs, args) {
		return 1
	}
	id, err := parseRequiredUint("--id", charityID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return callAndPrint("charity_getCharity", []interface{}{id}, false, stdout, stderr)
}

// runRecord serves both donation and expense lookups. Without --index it
// prints the record count for the charity.
func runRecord(kind string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(kind, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var charityID, index string
	fs.StringVar(&charityID, "charity", "", "charity id")
	fs.StringVar(&index, "index", "", kind+" index (omit to print the count)")
	if !parseFlags(fs, args) {
		return 1
	}
	id, err := parseRequiredUint("--charity", charityID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	getMethod, countMethod := "charity_getDonation", "charity_getDonationCount"
	if kind == "expense" {
		getMethod, countMethod = "charity_getExpense", "charity_getExpenseCount"
	}
	if strings.TrimSpace(index) == "" {
		return callAndPrint(countMethod, []interface{}{id}, false, stdout, stderr)
	}
	idx, err := parseRequiredUint("--index", index)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return callAndPrint(getMethod, []interface{}{id, idx}, false, stdout, stderr)
}

func runDonorHistory(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("donor-history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var addr string
	fs.StringVar(&addr, "addr", "", "bech32 donor address")
	if !parseFlags(fs, args) {
		return 1
	}
	target := strings.TrimSpace(addr)
	if target == "" {
		fmt.Fprintln(stderr, "Error: --addr is required")
		return 1
	}
	return callAndPrint("charity_getDonorHistory", []interface{}{target}, false, stdout, stderr)
}

func runStats(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if !parseFlags(fs, args) {
		return 1
	}
	return callAndPrint("charity_getPlatformStats", nil, false, stdout, stderr)
}
