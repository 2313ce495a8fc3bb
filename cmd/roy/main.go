// Command roy estimates and simulates generalized Roy models described
// by a YAML configuration file.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/lnsongxf/roymodel/config"
	"github.com/lnsongxf/roymodel/statmodel"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	config  string
	verbose bool
}

func (f *rootFlags) load(cmd *cobra.Command) (*config.Config, *config.Options, error) {
	c, err := config.Load(f.config)
	if err != nil {
		return nil, nil, err
	}
	opts := &config.Options{}
	if f.verbose {
		opts.Log = log.New(cmd.ErrOrStderr(), "roy: ", 0)
	}
	return c, opts, nil
}

func newRootCmd() *cobra.Command {

	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "roy",
		Short: "Estimate and simulate generalized Roy models",
		Long: `roy fits the generalized Roy model of treatment choice by maximum
likelihood, reports marginal and average treatment effects with
simulation based confidence bands, and simulates data from the model.

The model is described by a YAML configuration file.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.config, "config", "c", "model.yml", "configuration file")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log progress to standard error")

	root.AddCommand(newEstimateCmd(flags), newSimulateCmd(flags), newCheckCmd(flags))

	return root
}

func newEstimateCmd(flags *rootFlags) *cobra.Command {

	var output string

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the model and report the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {

			c, opts, err := flags.load(cmd)
			if err != nil {
				return err
			}

			r, err := c.Estimate(opts)
			if err != nil {
				return err
			}

			if err := r.Report(cmd.OutOrStdout()); err != nil {
				return err
			}

			if output == "" {
				return nil
			}
			return writeFile(output, r.WriteYAML)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "results.yml", "results file, empty to skip")

	return cmd
}

func newSimulateCmd(flags *rootFlags) *cobra.Command {

	var dir string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a dataset from the model",
		Long: `simulate draws outcomes and choices at the parameter values of the
configuration file and writes them to <target>.csv, where target is set
in the simulation section.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {

			c, opts, err := flags.load(cmd)
			if err != nil {
				return err
			}

			sim, err := c.Simulate(opts)
			if err != nil {
				return err
			}

			if dir == "" {
				dir = filepath.Dir(flags.config)
			}
			path := filepath.Join(dir, c.Simulation.Target+".csv")
			err = writeFile(path, func(w io.Writer) error {
				return statmodel.WriteCSV(w, sim.Data)
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d agents written to %s\n", sim.Data.NumObs(), path)
			fmt.Fprintf(cmd.OutOrStdout(), "Objective at the true parameters: %.6f\n", sim.Objective)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "output directory, the directory of the configuration file by default")

	return cmd
}

func newCheckCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print it with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := flags.load(cmd)
			if err != nil {
				return err
			}
			return c.Write(cmd.OutOrStdout())
		},
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
