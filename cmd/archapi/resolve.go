package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/archapi/pkg/catalog"
	"github.com/cuemby/archapi/pkg/resolver"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve CONFIGURATION",
	Short: "Resolve a configuration from the local catalog",
	Long: `Resolve a configuration against the module definitions of the local
catalog and print the containers it would run. Nothing is started.

Examples:
  # Show the containers of the town configuration
  archapi resolve town --robot-type watchtower

  # Include the sub-configurations of each device kind, as YAML
  archapi resolve town --tree -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().String("robot-type", "", "Robot type (defaults to the configured one)")
	resolveCmd.Flags().Bool("tree", false, "Resolve sub-configurations of device kinds too")
	resolveCmd.Flags().StringP("output", "o", "table", "Output format (table, yaml)")
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if rt, _ := cmd.Flags().GetString("robot-type"); rt != "" {
		cfg.RobotType = rt
	}
	if err := cfg.DetectRobotType(); err != nil {
		return err
	}

	cat, err := catalog.New(catalog.Options{Root: cfg.DataDir, Arch: cfg.Arch})
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	res := resolver.New(cat, cfg.RobotType)

	tree, _ := cmd.Flags().GetBool("tree")
	format, _ := cmd.Flags().GetString("output")
	out := cmd.OutOrStdout()

	if tree {
		t, err := res.ResolveTree(cfg.RobotType, args[0])
		if err != nil {
			return err
		}
		if format == "yaml" {
			return yaml.NewEncoder(out).Encode(t)
		}
		printTree(cmd, t, "")
		return nil
	}

	rc, err := res.Resolve(args[0])
	if err != nil {
		return err
	}
	if format == "yaml" {
		return yaml.NewEncoder(out).Encode(rc)
	}
	printResolved(cmd, rc)
	return nil
}

func printTree(cmd *cobra.Command, t *resolver.Tree, indent string) {
	if t.Cycle {
		fmt.Fprintf(cmd.OutOrStdout(), "%s(cycle)\n", indent)
		return
	}
	printResolved(cmd, t.Configuration)
	kinds := make([]string, 0, len(t.Devices))
	for kind := range t.Devices {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%sdevices of kind %s:\n", indent, kind)
		printTree(cmd, t.Devices[kind], indent+"  ")
	}
}

func printResolved(cmd *cobra.Command, rc *types.ResolvedConfiguration) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", rc.Name, rc.RobotType)
	t := newTable(cmd.OutOrStdout(), "INSTANCE", "MODULE", "IMAGE", "PORTS", "PRIVILEGED")
	for _, name := range rc.InstanceNames() {
		m := rc.Modules[name]
		ports := make([]string, 0, len(m.Configuration.Ports))
		for internal, external := range m.Configuration.Ports {
			ports = append(ports, fmt.Sprintf("%d->%s", external, internal))
		}
		sort.Strings(ports)
		t.AppendRow([]any{name, m.Type, m.Configuration.Image, strings.Join(ports, ","), m.Configuration.Privileged})
	}
	t.Render()
}
