package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/modlink/modlink/pkg/api"
)

type updateOutput struct {
	Updates    []api.ModuleUpdate `yaml:"updates"`
	FullReload bool               `yaml:"fullReload"`
	Relinked   bool               `yaml:"relinked"`

	// Only when the plan changed
	Chunks []api.Chunk `yaml:"chunks,omitempty"`
}

type updateCmd struct {
	root    *rootCommand
	flags   buildFlags
	entries []string
	with    string
}

func (c *updateCmd) run(cmd *cobra.Command, args []string) error {
	options, err := c.root.buildOptions(cmd.Flags(), &c.flags, c.entries)
	if err != nil {
		return err
	}

	// The edit goes into a memory layer so the files on disk stay untouched
	overlay := afero.NewCopyOnWriteFs(afero.NewReadOnlyFs(c.root.gs.fs), afero.NewMemMapFs())
	options.FS = overlay

	session := api.NewSession(options)
	if build := session.Rebuild(cmd.Context()); len(build.Errors) > 0 {
		return fmt.Errorf("initial build failed with %s", plural("error", len(build.Errors)))
	}

	changed := args[0]
	contents, err := afero.ReadFile(c.root.gs.fs, resolvePath(options.AbsWorkingDir, c.with))
	if err != nil {
		return fmt.Errorf("could not read the new contents of %q: %w", changed, err)
	}
	if err := afero.WriteFile(overlay, resolvePath(options.AbsWorkingDir, changed), contents, 0o644); err != nil {
		return err
	}

	result := session.Update(cmd.Context(), changed)
	if len(result.Errors) > 0 {
		return fmt.Errorf("update failed with %s", plural("error", len(result.Errors)))
	}

	output := updateOutput{
		Updates:    result.Updates,
		FullReload: result.FullReload,
		Relinked:   result.Relinked,
	}
	if result.Relinked {
		output.Chunks = result.Chunks
	}
	return writeYAML(c.root.gs.stdout, output)
}

func getUpdateCmd(root *rootCommand) *cobra.Command {
	c := &updateCmd{root: root}

	cmd := &cobra.Command{
		Use:   "update <changed>",
		Short: "Build, then apply an edit as a hot update",
		Long: `Build the module graph, replace one module with the contents of another file
and print what a hot update would have to do: which modules are re-evaluated,
which modules accept the change and whether the page needs a full reload.
Nothing on disk is modified.`,
		Example: `
  # What happens if src/view.js is replaced by src/view.next.js?
  modlink update src/view.js --with src/view.next.js --entry src/main.js`[1:],
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().AddFlagSet(c.flags.flagSet())
	cmd.Flags().StringSliceVar(&c.entries, "entry", nil, "an entry point of the build (repeatable)")
	cmd.Flags().StringVar(&c.with, "with", "", "the file holding the new contents of the changed module")
	_ = cmd.MarkFlagRequired("entry")
	_ = cmd.MarkFlagRequired("with")
	return cmd
}
