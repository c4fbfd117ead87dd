package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport/httplink"
)

func runStatus(args []string, _ io.Reader, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	address := fs.StringP("address", "a", "http://127.0.0.1:5000", "gateway base url")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	if done, err := parseFlags(fs, args, stderr); done || err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	l := httplink.New(*address, nil)
	defer l.Close()
	st, err := l.Status(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
