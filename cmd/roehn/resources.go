package main

import (
	"errors"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muurk/roehn/internal/resources"
	"github.com/muurk/roehn/internal/ui"
)

var errNoResources = errors.New("no driver metadata found; use --resources or set " + resources.ResourcesEnvVar)

func init() {
	rootCmd.AddCommand(resourcesCmd)
	resourcesCmd.AddCommand(resourcesShowCmd)
	resourcesCmd.AddCommand(resourcesExportCmd)

	addResourcesFlag(resourcesShowCmd)
	addResourcesFlag(resourcesExportCmd)
}

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Inspect Roehn Wizard driver metadata",
	Long: `Driver metadata maps module models to their dimmer and shade channels.
It is read from --resources, the resources_path preference or
` + resources.ResourcesEnvVar + `. Point any of these at a Roehn Wizard
installation, its Resources directory, or a bundle written by
'roehn resources export'.`,
}

var resourcesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Summarize the loaded driver metadata",
	Args:  cobra.NoArgs,
	RunE:  runResourcesShow,
}

// resourcesReport is the JSON shape of 'resources show'
type resourcesReport struct {
	Root    string   `json:"root,omitempty"`
	Modules int      `json:"modules"`
	Keypads int      `json:"keypads"`
	Models  []string `json:"models"`
}

func runResourcesShow(cmd *cobra.Command, args []string) error {
	idx, err := loadResources()
	if err != nil {
		return err
	}

	models := make([]string, 0, len(idx.Modules))
	for _, m := range idx.Modules {
		models = append(models, m.ModelBaseName)
	}
	sort.Strings(models)

	if jsonOutput {
		return emitJSON(cmd, resourcesReport{
			Root:    idx.Root,
			Modules: len(idx.Modules),
			Keypads: len(idx.Keypads),
			Models:  nonNil(models),
		})
	}

	p := printer(cmd)
	if len(idx.Modules) == 0 && len(idx.Keypads) == 0 {
		p.PrintResult(ui.NewWarningResult("No driver metadata found").
			AddDetail("Hint", "use --resources or set "+resources.ResourcesEnvVar))
		return nil
	}

	res := ui.NewSuccessResult("Driver metadata loaded").
		AddDetail("Root", firstNonEmpty(idx.Root, "bundle")).
		AddDetail("Module drivers", strconv.Itoa(len(idx.Modules))).
		AddDetail("Keypad drivers", strconv.Itoa(len(idx.Keypads)))
	p.PrintResult(res)

	for _, m := range idx.Modules {
		p.Printf("  %-24s dimmers %-10s shades %s\n",
			m.ModelBaseName,
			ui.FormatChannels(m.Channels(resources.SlotDimmer)),
			ui.FormatChannels(m.Channels(resources.SlotShade)))
	}
	return nil
}

var resourcesExportCmd = &cobra.Command{
	Use:   "export <dir>",
	Short: "Write the loaded driver metadata as a portable bundle",
	Example: `  roehn resources export ./wizard-bundle --resources "C:\Program Files\Roehn Wizard"
  ROEHN_WIZARD_RESOURCES_PATH=./wizard-bundle roehn devices home`,
	Args: cobra.ExactArgs(1),
	RunE: runResourcesExport,
}

func runResourcesExport(cmd *cobra.Command, args []string) error {
	idx, err := loadResources()
	if err != nil {
		return err
	}
	if len(idx.Modules) == 0 && len(idx.Keypads) == 0 {
		return errNoResources
	}
	if err := idx.WriteBundle(args[0]); err != nil {
		return err
	}

	if jsonOutput {
		return emitJSON(cmd, map[string]any{"dir": args[0], "modules": len(idx.Modules), "keypads": len(idx.Keypads)})
	}
	printer(cmd).PrintResult(ui.NewSuccessResult("Bundle written").
		AddDetail("Directory", args[0]).
		AddDetail("Module drivers", strconv.Itoa(len(idx.Modules))).
		AddDetail("Keypad drivers", strconv.Itoa(len(idx.Keypads))))
	return nil
}
