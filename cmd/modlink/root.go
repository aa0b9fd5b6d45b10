package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/modlink/modlink/internal/exitcode"
	"github.com/modlink/modlink/internal/logger"
)

// Everything the commands touch outside the process, so tests can swap it
type globalState struct {
	ctx       context.Context
	fs        afero.Fs
	getwd     func() (string, error)
	lookupEnv func(string) (string, bool)
	stdout    io.Writer
	stderr    io.Writer
}

func newGlobalState(ctx context.Context) *globalState {
	return &globalState{
		ctx:       ctx,
		fs:        afero.NewOsFs(),
		getwd:     os.Getwd,
		lookupEnv: os.LookupEnv,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
}

type rootCommand struct {
	gs  *globalState
	cmd *cobra.Command

	configFile  string
	root        string
	verbose     bool
	logLevel    string
	logOverride map[string]string
}

func newRootCommand(gs *globalState) *rootCommand {
	c := &rootCommand{gs: gs}
	c.cmd = &cobra.Command{
		Use:               "modlink",
		Short:             "Link module graphs into chunks",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}
	c.cmd.SetOut(gs.stdout)
	c.cmd.SetErr(gs.stderr)
	c.cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exitcode.Set(err, exitcode.InvalidUsage)
	})

	c.cmd.PersistentFlags().AddFlagSet(c.rootCmdPersistentFlagSet())
	c.cmd.AddCommand(
		getLinkCmd(c),
		getUpdateCmd(c),
		getVersionCmd(gs),
	)
	return c
}

func (c *rootCommand) rootCmdPersistentFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.StringVarP(&c.configFile, "config", "c", "", "YAML file with build options")
	flags.StringVar(&c.root, "root", "", "directory that module paths are relative to (default: the current directory)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "trace the linker to stderr")
	flags.StringVar(&c.logLevel, "log-level", "info", "the lowest level of message to print: verbose, debug, info, warning, error or silent")
	flags.StringToStringVar(&c.logOverride, "log-override", nil, "change the level of a message id, for example circular-dependency=silent")
	return flags
}

func (c *rootCommand) persistentPreRunE(_ *cobra.Command, _ []string) error {
	if c.verbose {
		tracer, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("could not create the trace logger: %w", err)
		}
		logger.SetTracer(tracer)
	}
	return nil
}

func (c *rootCommand) execute() error {
	err := c.cmd.ExecuteContext(c.gs.ctx)
	_ = logger.Tracer().Sync()
	if err != nil {
		fmt.Fprintf(c.gs.stderr, "error: %v\n", err)
	}
	return err
}
