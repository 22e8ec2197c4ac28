package app

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"loclab.gg/stringsmith/internal/cli"
	"loclab.gg/stringsmith/internal/keyring"
)

func runKeys(args []string) int {
	fs := flag.NewFlagSet("keys", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	set := fs.String("set", "", "Store an API key for this provider (key is read from stdin)")
	list := fs.Bool("list", false, "List providers with stored keys")
	del := fs.String("delete", "", "Delete the stored key for this provider")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "keys does not accept positional arguments")
		return 2
	}

	modes := 0
	for _, selected := range []bool{*set != "", *list, *del != ""} {
		if selected {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "pick one of --set <provider>, --list or --delete <provider>")
		return 2
	}

	cfg, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if strings.TrimSpace(cfg.KeyringPassphrase) == "" {
		fmt.Fprintln(os.Stderr, "STRINGSMITH_KEYRING_PASSPHRASE must be set to use the keyring")
		return 1
	}

	ring, err := keyring.Open(cfg.SnapshotDir, cfg.KeyringPassphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open keyring: %v\n", err)
		return 1
	}

	switch {
	case *set != "":
		return runKeysSet(ring, *set)
	case *del != "":
		return runKeysDelete(ring, *del)
	default:
		return runKeysList(ring)
	}
}

func runKeysSet(ring *keyring.Keyring, provider string) int {
	fmt.Fprintf(os.Stderr, "Enter API key for %s: ", provider)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintf(os.Stderr, "Failed to read key from stdin: %v\n", err)
		return 1
	}

	apiKey := strings.TrimSpace(line)
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "API key must not be empty")
		return 2
	}

	if err := ring.Set(provider, apiKey); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to store key: %v\n", err)
		return 1
	}
	fmt.Printf("Stored key for %s\n", strings.ToLower(strings.TrimSpace(provider)))
	return 0
}

func runKeysDelete(ring *keyring.Keyring, provider string) int {
	if err := ring.Delete(provider); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "No stored key for %s\n", provider)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to delete key: %v\n", err)
		return 1
	}
	fmt.Printf("Deleted key for %s\n", strings.ToLower(strings.TrimSpace(provider)))
	return 0
}

func runKeysList(ring *keyring.Keyring) int {
	providers, err := ring.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list keys: %v\n", err)
		return 1
	}
	if len(providers) == 0 {
		fmt.Println("no stored keys")
		return 0
	}
	for _, provider := range providers {
		fmt.Println(provider)
	}
	return 0
}
