package main

import (
	"fmt"
	"io"
	"os"
)

const (
	defaultPassEnv = "LENDCTL_PASSPHRASE"
	defaultConfig  = "./intentlend.toml"
)

type command struct {
	name  string
	usage string
	run   func(args []string, out io.Writer) error
}

var commands = []command{
	{"keygen", "create an encrypted signer keystore", runKeygen},
	{"address", "print the address held in a keystore", runAddress},
	{"sign-borrow", "sign a borrow intent read from JSON", runSignBorrow},
	{"sign-lend", "sign a lend intent read from JSON", runSignLend},
	{"hash", "print the typed-data digest of an intent", runHash},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	for _, cmd := range commands {
		if cmd.name != os.Args[1] {
			continue
		}
		if err := cmd.run(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	usage(os.Stderr)
	os.Exit(1)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: lendctl <command> [flags]")
	fmt.Fprintln(w)
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", cmd.name, cmd.usage)
	}
}
