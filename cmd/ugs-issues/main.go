package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/fang"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/petr-muller/ugs/internal/config"
	"github.com/petr-muller/ugs/internal/flagutil"
	"github.com/petr-muller/ugs/internal/issuewatch/api"
	"github.com/petr-muller/ugs/internal/issuewatch/model"
	"github.com/petr-muller/ugs/internal/issuewatch/monitor"
	"github.com/petr-muller/ugs/internal/issuewatch/service"
	"github.com/petr-muller/ugs/internal/issuewatch/ui"
	"github.com/petr-muller/ugs/internal/settings"
)

var (
	serverOptions flagutil.ServerOptions
	logLevel      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ugs-issues",
		Short: "Watch build issues reported by the build health service",
		Long: `ugs-issues follows the build issues reported by a build health service.
It provides these modes of operation:

1. Watch: keep polling the service and raise alerts for issues that need attention
2. List: show the current issues and what changed since the previous run
3. Show: show one issue with its builds and diagnostics
4. Update: assign, acknowledge or mark an issue fixed`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			logrus.SetLevel(level)
			return serverOptions.Validate()
		},
	}

	serverOptions.AddPFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level")

	rootCmd.AddCommand(
		newWatchCmd(),
		newListCmd(),
		newSnapshotsCmd(),
		newShowCmd(),
		newUpdateCmd(),
		newAddServerCmd(),
	)

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		logrus.WithError(err).Fatal("command failed")
	}
}

func loadSettings() (*settings.Settings, error) {
	s, err := settings.Load(serverOptions.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load settings: %w", err)
	}
	return s, nil
}

// resolveServer picks the server from flags and settings
func resolveServer() (*settings.Settings, settings.Server, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, settings.Server{}, err
	}
	server, err := serverOptions.Resolve(s, os.Getenv("USER"))
	if err != nil {
		return nil, settings.Server{}, err
	}
	return s, server, nil
}

func newAPIClient() (*api.Client, settings.Server, error) {
	_, server, err := resolveServer()
	if err != nil {
		return nil, server, err
	}
	client, err := api.NewClient(server.APIURL)
	if err != nil {
		return nil, server, fmt.Errorf("cannot create issue service client: %w", err)
	}
	return client, server, nil
}

func parseIssueID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid issue id '%s'", arg)
	}
	return id, nil
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch issues and raise alerts",
		Long: `Poll every configured server (or the one given by --api-url) and show the issues in a table.
Issues that need your attention pop up as alerts that can be accepted or declined.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context())
		},
	}
}

func runWatch(ctx context.Context) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	var servers []settings.Server
	if serverOptions.APIURL != "" || len(s.Servers) == 0 {
		server, err := serverOptions.Resolve(s, os.Getenv("USER"))
		if err != nil {
			return err
		}
		servers = append(servers, server)
	} else {
		if serverOptions.PollInterval > 0 {
			s.PollInterval = serverOptions.PollInterval
		}
		servers = s.Servers
	}

	// the TUI owns the terminal, log to a file instead
	logFile, err := openLogFile()
	if err != nil {
		return err
	}
	defer logFile.Close()
	logrus.SetOutput(logFile)

	// per-server fields are filled in by the registry
	registry := monitor.NewRegistry(s.MonitorOptions(settings.Server{}))
	var sources []ui.WatchSource
	for _, server := range servers {
		m, err := registry.Acquire(server.APIURL, server.UserName)
		if err != nil {
			return fmt.Errorf("cannot watch %s: %w", server.APIURL, err)
		}
		defer registry.Release(m)
		sources = append(sources, m)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge := ui.NewBridge()
	model := ui.NewWatchModel(ui.WatchOptions{
		Sources: sources,
		Policy:  s.AlertPolicy(),
		Post:    bridge.Post,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	go bridge.Run(ctx, program.Send)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("cannot run TUI: %w", err)
	}
	return nil
}

func openLogFile() (*os.File, error) {
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine data directory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create data directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dataDir, "ugs-issues.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file: %w", err)
	}
	return f, nil
}

func createService() (*service.Service, settings.Server, *settings.Settings, error) {
	s, server, err := resolveServer()
	if err != nil {
		return nil, server, nil, err
	}
	client, err := api.NewClient(server.APIURL)
	if err != nil {
		return nil, server, nil, fmt.Errorf("cannot create issue service client: %w", err)
	}
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, server, nil, fmt.Errorf("cannot determine data directory: %w", err)
	}
	return service.NewService(client, filepath.Join(dataDir, "snapshots")), server, s, nil
}

func newListCmd() *cobra.Command {
	var plain, resolved bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List current issues and what changed since the previous run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), plain, resolved)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print the issues instead of opening the table view")
	cmd.Flags().BoolVar(&resolved, "resolved", false, "Include recently resolved issues")

	return cmd
}

func runList(ctx context.Context, plain, resolved bool) error {
	svc, server, s, err := createService()
	if err != nil {
		return err
	}

	opts := service.SnapshotOptions{UserName: server.UserName}
	if resolved {
		opts.Resolved = s.MaxResolvedIssues
	}
	result, err := svc.Snapshot(ctx, opts)
	if err != nil {
		return fmt.Errorf("cannot list issues: %w", err)
	}

	if len(result.Issues) == 0 && len(result.RemovedIssues) == 0 {
		fmt.Printf("No issues reported by %s\n", server.APIURL)
		return nil
	}

	if plain {
		printIssues(result)
		return nil
	}

	listModel := ui.NewListModel(fmt.Sprintf("Build issues: %s", server.APIURL), result.Issues, result.Result, result.PreviousFetch)
	program := tea.NewProgram(listModel, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("cannot run TUI: %w", err)
	}
	return nil
}

func printIssues(result *service.Result) {
	isNew := make(map[int]bool)
	for _, issue := range result.NewIssues {
		isNew[issue.ID] = true
	}

	for _, issue := range result.Issues {
		marker := " "
		switch {
		case isNew[issue.ID]:
			marker = "+"
		case len(result.ChangedIssues[issue.ID]) > 0:
			marker = "~"
		}
		owner := issue.Owner
		if owner == "" {
			owner = "(unassigned)"
		}
		fmt.Printf("%s %d %-14s %s\n", marker, issue.ID, owner, issue.Summary)
		for _, change := range result.ChangedIssues[issue.ID] {
			fmt.Printf("    %s: '%s' -> '%s'\n", change.Field, change.OldValue, change.NewValue)
		}
	}
	for _, issue := range result.RemovedIssues {
		fmt.Printf("- %d %s\n", issue.ID, issue.Summary)
	}
}

func newSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List stored issue snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, _, err := createService()
			if err != nil {
				return err
			}
			items, err := svc.ListSnapshots()
			if err != nil {
				return fmt.Errorf("cannot list snapshots: %w", err)
			}
			if len(items) == 0 {
				fmt.Println("No stored snapshots found")
				return nil
			}
			fmt.Println("Stored snapshots:")
			for _, item := range items {
				fmt.Printf("  - %s as %s (%d issues", item.APIURL, item.UserName, item.IssueCount)
				if !item.LastFetched.IsZero() {
					fmt.Printf(", last fetched: %s", item.LastFetched.Format("2006-01-02 15:04"))
				}
				fmt.Println(")")
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "forget",
		Short: "Delete the stored snapshot of the selected server and user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, server, _, err := createService()
			if err != nil {
				return err
			}
			if err := svc.ForgetSnapshot(server.UserName); err != nil {
				return fmt.Errorf("cannot delete snapshot: %w", err)
			}
			fmt.Printf("Snapshot of %s as %s deleted\n", server.APIURL, server.UserName)
			return nil
		},
	})

	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show an issue with its builds and diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIssueID(args[0])
			if err != nil {
				return err
			}
			return runShow(cmd.Context(), id)
		},
	}
}

func runShow(ctx context.Context, id int) error {
	client, _, err := newAPIClient()
	if err != nil {
		return err
	}

	issue, err := client.GetIssue(ctx, id)
	if err != nil {
		return fmt.Errorf("cannot get issue: %w", err)
	}
	builds, err := client.GetIssueBuilds(ctx, id)
	if err != nil {
		return fmt.Errorf("cannot get builds: %w", err)
	}
	diagnostics, err := client.GetIssueDiagnostics(ctx, id)
	if err != nil {
		return fmt.Errorf("cannot get diagnostics: %w", err)
	}

	fmt.Print(describeIssue(*issue, builds, diagnostics))
	return nil
}

func describeIssue(issue model.IssueData, builds []model.IssueBuildData, diagnostics []model.IssueDiagnosticData) string {
	var s strings.Builder

	fmt.Fprintf(&s, "Issue %d: %s\n", issue.ID, issue.Summary)
	owner := issue.Owner
	if owner == "" {
		owner = "(unassigned)"
	}
	fmt.Fprintf(&s, "Owner:    %s\n", owner)
	if issue.NominatedBy != "" {
		fmt.Fprintf(&s, "Nominated by: %s\n", issue.NominatedBy)
	}
	fmt.Fprintf(&s, "Created:  %s\n", issue.CreatedAt.Local().Format("2006-01-02 15:04"))
	if issue.AcknowledgedAt != nil {
		fmt.Fprintf(&s, "Acknowledged: %s\n", issue.AcknowledgedAt.Local().Format("2006-01-02 15:04"))
	}
	switch {
	case issue.FixChange < 0:
		fmt.Fprintf(&s, "Fixed:    systemic\n")
	case issue.FixChange > 0:
		fmt.Fprintf(&s, "Fixed:    CL %d\n", issue.FixChange)
	}
	if issue.ResolvedAt != nil {
		fmt.Fprintf(&s, "Resolved: %s\n", issue.ResolvedAt.Local().Format("2006-01-02 15:04"))
	}

	if len(builds) > 0 {
		s.WriteString("\nBuilds:\n")
		for _, build := range builds {
			fmt.Fprintf(&s, "  %-8s %s CL %d %s / %s\n", build.Outcome, build.Stream, build.Change, build.JobName, build.JobStepName)
		}
	}
	if len(diagnostics) > 0 {
		s.WriteString("\nDiagnostics:\n")
		for _, diagnostic := range diagnostics {
			fmt.Fprintf(&s, "  %s\n", strings.TrimSpace(diagnostic.Message))
			if diagnostic.URL != "" {
				fmt.Fprintf(&s, "    %s\n", diagnostic.URL)
			}
		}
	}

	return s.String()
}

func newUpdateCmd() *cobra.Command {
	var (
		owner, nominatedBy string
		acknowledge        bool
		fixChange          int
	)

	cmd := &cobra.Command{
		Use:   "update <issue-id>",
		Short: "Assign, acknowledge or mark an issue fixed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIssueID(args[0])
			if err != nil {
				return err
			}

			update := model.IssueUpdateData{ID: id}
			flags := cmd.Flags()
			if flags.Changed("owner") {
				update.Owner = &owner
			}
			if flags.Changed("nominated-by") {
				update.NominatedBy = &nominatedBy
			}
			if flags.Changed("acknowledge") {
				update.Acknowledged = &acknowledge
			}
			if flags.Changed("fix-change") {
				update.FixChange = &fixChange
			}
			if update.Owner == nil && update.NominatedBy == nil && update.Acknowledged == nil && update.FixChange == nil {
				return fmt.Errorf("nothing to update: pass at least one of --owner, --nominated-by, --acknowledge, --fix-change")
			}

			client, _, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.UpdateIssue(cmd.Context(), update); err != nil {
				return fmt.Errorf("cannot update issue: %w", err)
			}
			fmt.Printf("Issue %d updated\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Assign the issue to this user")
	cmd.Flags().StringVar(&nominatedBy, "nominated-by", "", "Record who nominated the owner")
	cmd.Flags().BoolVar(&acknowledge, "acknowledge", false, "Acknowledge the issue")
	cmd.Flags().IntVar(&fixChange, "fix-change", 0, "Changelist that fixed the issue, -1 for a systemic fix")

	return cmd
}

func newAddServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-server <api-url> <user>",
		Short: "Remember an issue service in the settings file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api.ValidateURL(args[0]); err != nil {
				return err
			}
			s, err := loadSettings()
			if err != nil {
				return err
			}
			s.AddServer(settings.Server{APIURL: args[0], UserName: args[1]})
			if err := s.Save(serverOptions.SettingsPath); err != nil {
				return fmt.Errorf("cannot save settings: %w", err)
			}
			fmt.Printf("Server %s saved to %s\n", args[0], serverOptions.SettingsPath)
			return nil
		},
	}
}
