package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/chunk"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
)

func runSplit(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("split", pflag.ContinueOnError)
	size := fs.IntP("size", "s", session.DefaultConfig().MaxChunkSize, "max payload bytes per chunk")
	format := fs.StringP("format", "f", string(session.FormatText), "chunk format: text|binary|json")
	prefix := fs.String("prefix", chunk.DefaultTextPrefix, "text chunk prefix")
	raw := fs.Bool("raw", false, "accept a payload that is not hex")
	if done, err := parseFlags(fs, args, stderr); done || err != nil {
		return err
	}
	arg, err := singleArg(fs.Args())
	if err != nil {
		return err
	}
	payload, err := readPayload(arg, stdin)
	if err != nil {
		return err
	}
	if !*raw {
		if err := checkHex(payload); err != nil {
			return err
		}
	}
	f, err := session.ParseFormat(*format)
	if err != nil {
		return err
	}
	chunks, err := chunk.Split(payload, *size)
	if err != nil {
		return err
	}
	r := session.Pipeline{Format: f, TextPrefix: *prefix}.Renderer(payload)
	for _, c := range chunks {
		b, err := r.Render(c)
		if err != nil {
			return err
		}
		if f == session.FormatBinary {
			fmt.Fprintln(stdout, hex.EncodeToString(b))
			continue
		}
		fmt.Fprintln(stdout, string(b))
	}
	fmt.Fprintf(stderr, "%s: %d bytes in %d chunks of <= %d\n", chunk.TxID(payload), len(payload), len(chunks), *size)
	return nil
}
