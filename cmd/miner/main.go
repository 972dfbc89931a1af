package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"miner-go/internal/app"
	"miner-go/internal/config"
	"miner-go/internal/miner"
)

func main() {
	if err := app.LoadEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig loads the config file named by the defaults.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a MinerApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Run", "History").
func newApp(operation string) (*app.MinerApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewMinerApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on the terminal without echoing input.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

var rootCmd = &cobra.Command{
	Use:          "miner",
	Short:        "Mine the file history of git repositories",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.LogDir = defaults["log_dir"]

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Output Path: %s\n", cfg.OutputPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair used to encrypt stored content",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := app.InitKeys(cfg, pass); err != nil {
			return fmt.Errorf("initializing keys: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("History")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt.Valid {
				d := r.FinishedAt.Time.Sub(r.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %s  %-10s  projects:%d  failed:%d  contents:%d  %s  %s\n",
				r.ID,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Status,
				r.Projects,
				r.Failed,
				r.Contents,
				duration,
				r.Parameters,
			)
		}
		return nil
	},
}

// failures command
var failuresCmd = &cobra.Command{
	Use:   "failures [RUN]",
	Short: "List the projects that failed in a run (default: latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var runID int64
		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			runID = id
		}

		a, err := newApp("Failures")
		if err != nil {
			return err
		}
		defer a.Close()

		runID, failures, err := a.Failures(runID)
		if err != nil {
			return err
		}
		if len(failures) == 0 {
			fmt.Printf("No failures in run #%d.\n", runID)
			return nil
		}
		for _, f := range failures {
			fmt.Printf("%d\t%s\t%s\n", f.ProjectID, f.URL, f.Reason)
		}
		return nil
	},
}

// content command
var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Inspect stored content",
}

var contentShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print a stored content body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp("ContentShow")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.WriteContent(id, func() (string, error) {
			return readPassphrase("Passphrase: ")
		}, os.Stdout)
	},
}

// project command
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Inspect mined projects",
}

var projectShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print the record of a mined project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp("ProjectShow")
		if err != nil {
			return err
		}
		defer a.Close()

		state, err := a.Project(id)
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("project %d has not been mined", id)
		}
		fmt.Printf("# %s  status:%s  run:%d  updated:%s\n",
			state.URL, state.Status, state.RunID, state.UpdatedAt.Format("2006-01-02 15:04:05"))
		if state.Status != miner.StatusDone {
			return nil
		}
		return a.WriteProject(id, os.Stdout)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// content and project subcommands
	contentCmd.AddCommand(contentShowCmd)
	projectCmd.AddCommand(projectShowCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntP("workers", "w", 0, "Number of concurrent workers (default from config)")
	runCmd.Flags().String("profile", "", "Write a profile: cpu, mem, trace, block or mutex")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(failuresCmd)
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(projectCmd)
}
