package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/service"
	"github.com/yejue/liteboty/services"
)

// validateCommand loads the file and prints the enabled services in start
// order. Services with no registered factory are flagged.
func validateCommand(args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags("validate", args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(context.Background(), cli.ConfigPath)
	if err != nil {
		return err
	}

	factories := service.NewFactories()
	if err := services.RegisterAll(factories); err != nil {
		return fmt.Errorf("register services: %w", err)
	}

	_, _ = fmt.Fprintf(stdout, "configuration %s is valid (version %s, bus %s)\n",
		cli.ConfigPath, cfg.Version, cfg.Bus.Driver)

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ORDER\tNAME\tPRIORITY\tPATH\tISOLATION\tFACTORY")
	for i, d := range cfg.EnabledServices() {
		isolation := d.Isolation
		if isolation == config.IsolationInline {
			isolation = "inline"
		}
		factory := "ok"
		if _, ok := factories.Lookup(d); !ok {
			factory = "missing"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n", i+1, d.Name, d.Priority, d.Path, isolation, factory)
	}
	return tw.Flush()
}
