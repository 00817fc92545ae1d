package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"hdlkit/internal/ast"
	"hdlkit/internal/check"
	"hdlkit/internal/config"
	"hdlkit/internal/designs"
	"hdlkit/internal/diag"
	"hdlkit/internal/ir"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "hdlc",
		Short:         "Elaborate and prepare hardware designs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(newListCmd(), newPrepareCmd(), newLintCmd())
	return root
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the sample designs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, d := range designs.All() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", d.Name, d.Description)
			}
			return nil
		},
	}
}

// options are the flags shared by prepare and lint.
type options struct {
	configPath string
	conflicts  string
	noSync     bool
	diagFormat string
}

func (o *options) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.configPath, "config", "", "path to a YAML configuration file")
	flags.StringVar(&o.conflicts, "conflicts", "", "driver conflict mode (silent|warn|error); overrides the configuration")
	flags.BoolVar(&o.noSync, "no-sync", false, "do not create a default sync domain")
	flags.StringVar(&o.diagFormat, "diag-format", "", "diagnostic output format (text|json); overrides the configuration")
}

func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("conflicts") {
		cfg.Conflicts = o.conflicts
	}
	if flags.Changed("diag-format") {
		cfg.DiagFormat = o.diagFormat
	}
	if o.noSync {
		off := false
		cfg.EnsureSync = &off
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newPrepareCmd() *cobra.Command {
	var opts options
	var output string
	cmd := &cobra.Command{
		Use:   "prepare [flags] <design>",
		Short: "Prepare a design and print the resulting fragment tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			reporter := diag.NewReporter(cmd.ErrOrStderr(), cfg.DiagFormat)
			design, err := prepareDesign(args[0], cfg, reporter)
			if err != nil {
				return err
			}
			if cfg.CheckEnabled() {
				if err := check.Fragment(design.TopLevel, reporter); err != nil {
					return err
				}
			}
			return withOutputWriter(cmd.OutOrStdout(), output, func(w io.Writer) error {
				ir.Dump(design, w)
				return nil
			})
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path (stdout when omitted)")
	return cmd
}

func newLintCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "lint [flags] <design>",
		Short: "Prepare a design and check it against the emitter contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			reporter := diag.NewReporter(cmd.ErrOrStderr(), cfg.DiagFormat)
			design, err := prepareDesign(args[0], cfg, reporter)
			if err != nil {
				return err
			}
			if err := check.Fragment(design.TopLevel, reporter); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d warning(s))\n", args[0], reporter.Count(diag.SeverityWarning))
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

// prepareDesign builds the named sample design and runs ir.Prepare on it
// with the settings of cfg.
func prepareDesign(name string, cfg *config.Config, reporter *diag.Reporter) (*ir.Design, error) {
	d, err := designs.Lookup(name)
	if err != nil {
		return nil, err
	}
	mode, err := cfg.ConflictMode()
	if err != nil {
		return nil, err
	}
	a := ast.NewArena()
	top, err := d.Build(a)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s", name)
	}
	ports, err := top.Select(cfg.Ports)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	return ir.Prepare(a, top.Elaboratable,
		ir.WithPorts(ports...),
		ir.EnsureSync(cfg.SyncEnabled()),
		ir.WithConflicts(mode),
		ir.WithReporter(reporter),
	)
}

func withOutputWriter(stdout io.Writer, path string, fn func(io.Writer) error) error {
	if path == "" || path == "-" {
		return fn(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	err = fn(f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	return err
}
