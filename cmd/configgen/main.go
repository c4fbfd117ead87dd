package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := fs.StringP("kind", "k", "sender", "config kind: sender|gateway (validate also accepts layout)")
	output := fs.StringP("output", "o", "", "output path for config template")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.StringP("input", "i", "", "config path for validation (defaults to per-kind cmd path)")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *validate {
		path := *input
		if path == "" {
			p, err := defaultPath(*kind)
			if err != nil {
				return err
			}
			path = p
		}
		if err := config.Validate(path, *kind); err != nil {
			return err
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return nil
	}

	target := *output
	if target == "" {
		p, err := defaultPath(*kind)
		if err != nil {
			return err
		}
		target = p
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		return err
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
	return nil
}

func defaultPath(kind string) (string, error) {
	switch kind {
	case "sender":
		return "cmd/btxctl/config.toml", nil
	case "gateway":
		return "cmd/btxgateway/config.toml", nil
	default:
		return "", fmt.Errorf("no default path for kind: %s", kind)
	}
}
