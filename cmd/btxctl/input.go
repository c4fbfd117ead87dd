package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// readPayload resolves "-" (stdin), "@path", or a literal argument.
func readPayload(arg string, stdin io.Reader) ([]byte, error) {
	var raw []byte
	switch {
	case arg == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	case strings.HasPrefix(arg, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		raw = []byte(arg)
	}
	payload := []byte(strings.TrimSpace(string(raw)))
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	return payload, nil
}

func checkHex(payload []byte) error {
	if len(payload)%2 != 0 {
		return fmt.Errorf("payload is not hex: odd length %d", len(payload))
	}
	if _, err := hex.DecodeString(string(payload)); err != nil {
		return fmt.Errorf("payload is not hex: %w", err)
	}
	return nil
}

func singleArg(args []string) (string, error) {
	switch len(args) {
	case 0:
		return "", errors.New("missing payload argument")
	case 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("unexpected argument: %s", args[1])
	}
}
