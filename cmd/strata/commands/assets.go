package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/selection"
	"github.com/teranos/strata/sym"
)

// AssetsCmd groups asset inspection commands
var AssetsCmd = &cobra.Command{
	Use:   "assets",
	Short: sym.Assets + " Inspect the asset graph",
	Long: sym.Assets + ` assets — Inspect the asset graph

Assets come from the built-in analytics catalog, the transform manifest and
every *.strata.toml file under definitions.paths.

Examples:
  strata assets ls                         # All assets
  strata assets ls --group tpch_analytics  # One group
  strata assets graph                      # Lineage tree from the roots`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var assetsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List assets",
	RunE:  runAssetsLs,
}

var assetsGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show asset lineage",
	Long: `Show the dependency tree from each root asset. Assets reachable along
several paths appear under each of their upstreams.`,
	RunE: runAssetsGraph,
}

var (
	assetGroups    []string
	assetKeys      []string
	assetChecksFor []string
)

func init() {
	assetsLsCmd.Flags().StringSliceVar(&assetGroups, "group", nil, "Only assets in these groups")
	assetsLsCmd.Flags().StringSliceVar(&assetKeys, "key", nil, "Only these asset keys")
	assetsLsCmd.Flags().StringSliceVar(&assetChecksFor, "checks-for", nil, "List the checks of these assets instead")

	AssetsCmd.AddCommand(assetsLsCmd)
	AssetsCmd.AddCommand(assetsGraphCmd)
}

// selectionFromFlags unions the --key, --group and --checks-for flags.
// No flags selects every asset.
func selectionFromFlags(r *asset.Registry) selection.Expr {
	var parts []selection.Expr
	if len(assetKeys) > 0 {
		parts = append(parts, selection.ByKeys(assetKeys...))
	}
	if len(assetGroups) > 0 {
		parts = append(parts, selection.ByGroup(assetGroups...))
	}
	if len(assetChecksFor) > 0 {
		parts = append(parts, selection.ChecksFor(assetChecksFor...))
	}
	if len(parts) == 0 {
		return selection.ByGroup(r.Groups()...)
	}
	return selection.Union(parts...)
}

func runAssetsLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := buildRepository(cfg, logger.Logger)
	if err != nil {
		return err
	}

	res, err := selection.Evaluate(selectionFromFlags(repo.Registry), repo.Registry)
	if err != nil {
		return err
	}

	if len(res.Assets) > 0 {
		data := pterm.TableData{{"KEY", "GROUP", "KINDS", "UPSTREAM", "FRESHNESS", "BUILT BY", "CHECKS"}}
		for _, key := range res.Assets {
			n, _ := repo.Registry.Node(key)
			builtBy := "strata"
			if n.Delegated() {
				builtBy = "transform"
			}
			data = append(data, []string{
				key,
				n.Group(),
				strings.Join(n.Kinds(), ","),
				strings.Join(n.Upstream(), ","),
				policyString(n),
				builtBy,
				fmt.Sprintf("%d", len(n.Checks())),
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
	}

	if len(res.Checks) > 0 {
		data := pterm.TableData{{"CHECK", "ASSET", "DESCRIPTION"}}
		for _, key := range res.Checks {
			spec, _ := repo.Checks.Get(key)
			data = append(data, []string{key, spec.Asset, spec.Description})
		}
		pterm.Println()
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
	}

	pterm.Printfln("\n%s %d asset(s), %d check(s)", sym.Assets, len(res.Assets), len(res.Checks))
	return nil
}

func policyString(n *asset.Node) string {
	p := n.FreshnessPolicy()
	if p == nil {
		return "-"
	}
	return p.String()
}

func runAssetsGraph(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := buildRepository(cfg, logger.Logger)
	if err != nil {
		return err
	}

	g := repo.Graph
	var subtree func(key string) pterm.TreeNode
	subtree = func(key string) pterm.TreeNode {
		n := pterm.TreeNode{Text: key}
		if node, ok := g.Registry().Node(key); ok {
			n.Text = fmt.Sprintf("%s %s", key, pterm.Gray("("+node.Group()+")"))
		}
		for _, down := range g.Downstream(key) {
			n.Children = append(n.Children, subtree(down))
		}
		return n
	}

	root := pterm.TreeNode{Text: sym.Graph + " lineage"}
	for _, key := range g.Roots() {
		root.Children = append(root.Children, subtree(key))
	}
	return pterm.DefaultTree.WithRoot(root).Render()
}
