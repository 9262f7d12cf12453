package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sessiond/internal/agents"
	"github.com/nextlevelbuilder/sessiond/internal/config"
	"github.com/nextlevelbuilder/sessiond/internal/events"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup: workspace, config, and the first agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	cfg := config.Default()

	workspace := cfg.Workspace
	agentID := "assistant"
	displayName := "Assistant"
	role := "General-purpose assistant"
	model := cfg.Models[0]

	modelOptions := make([]huh.Option[string], 0, len(cfg.Models))
	for _, m := range cfg.Models {
		modelOptions = append(modelOptions, huh.NewOption(m, m))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Workspace directory").
				Description("Agent profiles, session logs, and assets live here.").
				Value(&workspace),
			huh.NewInput().
				Title("Agent id").
				Description("Alphanumeric plus - _ . (max 120 chars).").
				Value(&agentID).
				Validate(func(s string) error {
					if !events.ValidAgentID(s) {
						return fmt.Errorf("invalid agent id")
					}
					return nil
				}),
			huh.NewInput().
				Title("Display name").
				Value(&displayName).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("display name is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Role").
				Value(&role).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("role is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Default model").
				Options(modelOptions...).
				Value(&model),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("onboarding cancelled: %w", err)
	}

	cfg.Workspace = workspace
	root := config.ExpandHome(workspace)
	agentsRoot := filepath.Join(root, "agents")
	for _, dir := range []string{agentsRoot, filepath.Join(root, "logs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	catalog := agents.NewCatalog(agentsRoot)
	summary, err := catalog.Create(agents.CreateRequest{
		ID:            agentID,
		DisplayName:   displayName,
		Role:          role,
		SelectedModel: model,
	})
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	path := resolveConfigPath()
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Workspace ready at %s\n", root)
	fmt.Printf("Agent %q (%s) created\n", summary.ID, summary.DisplayName)
	fmt.Printf("Config written to %s\n", path)
	fmt.Println("Run `sessiond serve` to start the gateway.")
	return nil
}
