package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modlink/modlink/internal/exitcode"
	"github.com/modlink/modlink/pkg/api"
)

type linkOutput struct {
	Chunks []api.Chunk `yaml:"chunks"`
	Runs   []runOutput `yaml:"runs,omitempty"`
}

type runOutput struct {
	Entry  string   `yaml:"entry"`
	Trace  []string `yaml:"trace"`
	Thrown string   `yaml:"thrown,omitempty"`
}

type linkCmd struct {
	root       *rootCommand
	flags      buildFlags
	runEntries bool
}

func (c *linkCmd) run(cmd *cobra.Command, args []string) error {
	options, err := c.root.buildOptions(cmd.Flags(), &c.flags, args)
	if err != nil {
		return err
	}

	result := api.BuildContext(cmd.Context(), options)
	if len(result.Errors) > 0 {
		return fmt.Errorf("build failed with %s", plural("error", len(result.Errors)))
	}

	if c.root.verbose {
		fmt.Fprint(c.root.gs.stderr, result.Dump())
	}

	output := linkOutput{Chunks: result.Chunks}
	thrown := false
	if c.runEntries {
		for _, chunk := range result.Chunks {
			if chunk.Entry == "" {
				continue
			}
			run, err := result.Run(chunk.Name)
			if err != nil {
				return err
			}
			output.Runs = append(output.Runs, runOutput{Entry: chunk.Name, Trace: run.Trace, Thrown: run.Thrown})
			thrown = thrown || run.Thrown != ""
		}
	}

	if err := writeYAML(c.root.gs.stdout, output); err != nil {
		return err
	}
	if thrown {
		return exitcode.Set(errors.New("an entry chunk threw while running"), exitcode.RunFailed)
	}
	return nil
}

func getLinkCmd(root *rootCommand) *cobra.Command {
	c := &linkCmd{root: root}

	cmd := &cobra.Command{
		Use:   "link <entry>...",
		Short: "Link the module graph and print the chunk plan",
		Long: `Link the module graph reachable from the entry points and print the chunk
plan as YAML: the modules in each chunk in evaluation order, the names chunks
import from each other and the exports of each entry chunk.`,
		Example: `
  # Print the chunk plan for two pages.
  modlink link src/home.js src/settings.js

  # Bundle each entry into a single chunk and run it.
  modlink link --splitting=false --run src/main.js`[1:],
		Args: cobra.MinimumNArgs(1),
		RunE: c.run,
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().AddFlagSet(c.flags.flagSet())
	cmd.Flags().BoolVar(&c.runEntries, "run", false, "evaluate every entry chunk and print what it logs")
	return cmd
}
