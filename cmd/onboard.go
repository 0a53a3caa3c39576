package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/painscan/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Interactive setup wizard for painscan",
	Long: `Walks you through configuring painscan:
  - AI provider (optional, used for AI and hybrid analysis and richer explanations)
  - Analyzer mode
  - Git provider credentials (GitHub, GitLab)
  - Where scan records are stored

Without an AI key every finding still gets a canned explanation, fix and
future-pain timeline from the built-in rule catalog.`,
	RunE: runOnboard,
}

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#7C3AED")).
	MarginBottom(1)

var successStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#10B981"))

var warnStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#F59E0B"))

var dimStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#6B7280"))

func runOnboard(cmd *cobra.Command, args []string) error {
	fmt.Println()
	fmt.Println(headerStyle.Render("  painscan · find the code that will hurt you later"))
	fmt.Println(dimStyle.Render("  Scan a repository, learn what each issue will cost you, fix the worst first.\n"))

	// Existing values become the form defaults.
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config (fix or remove it, then re-run): %w", err)
	}

	// --- Step 1: AI provider ---
	fmt.Println(headerStyle.Render("  Step 1/4 · AI Provider (optional)"))

	provider := cfg.AI.Provider
	if provider == "" {
		provider = "none"
	}
	aiKey := cfg.AI.OpenAIKey
	if cfg.AI.Provider == "anthropic" {
		aiKey = cfg.AI.AnthropicKey
	}
	aiModel := cfg.AI.Model
	ollamaURL := cfg.AI.OllamaURL

	aiForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("AI provider").
				Description("Used to hunt for issues beyond the rule catalog and to write explanations.").
				Options(
					huh.NewOption("None (catalog explanations only)", "none"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("Ollama (local)", "ollama"),
				).
				Value(&provider),
		),
	)
	if err := aiForm.Run(); err != nil {
		return err
	}

	if provider != "none" {
		fields := []huh.Field{
			huh.NewInput().
				Title("Model").
				Description("Leave blank for the provider default.").
				Value(&aiModel),
		}
		if provider == "ollama" {
			fields = append(fields, huh.NewInput().
				Title("Ollama URL").
				Placeholder("http://localhost:11434").
				Value(&ollamaURL))
		} else {
			fields = append([]huh.Field{huh.NewInput().
				Title("API key").
				Placeholder("sk-...").
				EchoMode(huh.EchoModePassword).
				Value(&aiKey)}, fields...)
		}
		if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
			return err
		}
	}

	cfg.AI.Model = strings.TrimSpace(aiModel)
	switch provider {
	case "openai":
		cfg.AI.Provider, cfg.AI.OpenAIKey = provider, strings.TrimSpace(aiKey)
	case "anthropic":
		cfg.AI.Provider, cfg.AI.AnthropicKey = provider, strings.TrimSpace(aiKey)
	case "ollama":
		cfg.AI.Provider, cfg.AI.OllamaURL = provider, strings.TrimSpace(ollamaURL)
	default:
		cfg.AI.Provider = ""
	}
	if cfg.AI.Provider != "" {
		fmt.Println(successStyle.Render("  AI enabled (" + cfg.AI.Provider + ").\n"))
	} else {
		fmt.Println(dimStyle.Render("  Catalog-only mode. Re-run 'painscan onboard' to add a provider later.\n"))
	}

	// --- Step 2: Analyzer ---
	fmt.Println(headerStyle.Render("\n  Step 2/4 · Analyzer"))

	mode := cfg.Analyzer.Mode
	fallback := cfg.Analyzer.Fallback
	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Analyzer mode").
				Options(
					huh.NewOption("pattern (fast, offline rules)", "pattern"),
					huh.NewOption("ai (model reviews source files)", "ai"),
					huh.NewOption("hybrid (rules, then AI when the policy asks)", "hybrid"),
				).
				Value(&mode),
			huh.NewConfirm().
				Title("Fall back to pattern rules when the analyzer fails?").
				Value(&fallback),
		),
	).Run(); err != nil {
		return err
	}
	if mode != "pattern" && cfg.AI.Provider == "" {
		fmt.Println(warnStyle.Render("  " + mode + " mode needs an AI provider; using pattern instead.\n"))
		mode = "pattern"
	}
	cfg.Analyzer.Mode = mode
	cfg.Analyzer.Fallback = fallback

	// --- Step 3: Git credentials ---
	fmt.Println(headerStyle.Render("\n  Step 3/4 · Git Credentials (optional)"))
	fmt.Println(dimStyle.Render("  Public repositories work without a token; one raises API rate limits.\n"))

	var githubToken, gitlabToken string
	if len(cfg.Git.GitHub) > 0 {
		githubToken = cfg.Git.GitHub[0].Token
	}
	if len(cfg.Git.GitLab) > 0 {
		gitlabToken = cfg.Git.GitLab[0].Token
	}
	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("GitHub token").
				Description("A classic token with public_repo read access is enough.").
				Placeholder("ghp_...").
				EchoMode(huh.EchoModePassword).
				Value(&githubToken),
			huh.NewInput().
				Title("GitLab token").
				Placeholder("glpat-...").
				EchoMode(huh.EchoModePassword).
				Value(&gitlabToken),
		),
	).Run(); err != nil {
		return err
	}
	cfg.Git.GitHub = nil
	if t := strings.TrimSpace(githubToken); t != "" {
		cfg.Git.GitHub = []config.GitHubConfig{{Token: t, Host: "github.com"}}
	}
	cfg.Git.GitLab = nil
	if t := strings.TrimSpace(gitlabToken); t != "" {
		cfg.Git.GitLab = []config.GitLabConfig{{Token: t, Host: "gitlab.com"}}
	}

	// --- Step 4: Storage ---
	fmt.Println(headerStyle.Render("\n  Step 4/4 · Scan Storage"))

	driver := cfg.Store.Driver
	dsn := cfg.Database.DSN
	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should scan records live?").
				Options(
					huh.NewOption("JSON file ("+cfg.Store.Path+")", "file"),
					huh.NewOption("SQLite ("+cfg.Database.Path+")", "sqlite"),
					huh.NewOption("MySQL", "mysql"),
				).
				Value(&driver),
		),
	).Run(); err != nil {
		return err
	}
	if driver == "mysql" {
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("MySQL DSN").
				Placeholder("user:pass@tcp(localhost:3306)/painscan?parseTime=true").
				EchoMode(huh.EchoModePassword).
				Value(&dsn),
		)).Run(); err != nil {
			return err
		}
		cfg.Database.DSN = strings.TrimSpace(dsn)
	}
	cfg.Store.Driver = driver
	if driver != "file" {
		cfg.Database.Driver = driver
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg, cfgFile); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	cfgPath, _ := config.ConfigPath(cfgFile)

	fmt.Println()
	fmt.Println(headerStyle.Render("  Setup complete!"))
	fmt.Printf("  Config saved to: %s\n\n", dimStyle.Render(cfgPath))
	fmt.Println(dimStyle.Render("  Next steps:"))
	fmt.Println(dimStyle.Render("    painscan scan --repo https://github.com/owner/name"))
	fmt.Println(dimStyle.Render("    painscan serve         start the HTTP API"))
	fmt.Println(dimStyle.Render("    painscan rules         see what the pattern analyzer looks for"))
	fmt.Println()
	return nil
}
