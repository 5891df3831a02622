// Command gmail-archiver logs in to Gmail, downloads messages by label,
// stores .eml originals and attachments on disk, and indexes everything
// into SQLite with a CSV export.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nhle/gmail-archiver/internal/archive"
	"github.com/nhle/gmail-archiver/internal/model"
	"github.com/nhle/gmail-archiver/internal/store"
	syncer "github.com/nhle/gmail-archiver/internal/sync"
	"github.com/nhle/gmail-archiver/internal/transport/gmail"
)

var log = logrus.New()

var (
	configFlag      string
	credentialsFlag string
	tokenFlag       string
	labelsFlag      string
	listLabelsFlag  bool
	outDirFlag      string
	dbFlag          string
	maxFlag         int64
	queryFlag       string
	markFlag        string
	workersFlag     int
	verboseFlag     bool
	resetAuthFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "gmail-archiver",
	Short: "Download Gmail messages by label into a local archive",
	Long: `gmail-archiver logs in to Gmail and downloads messages for the given
labels. Each message is saved as a .eml original, its attachments are
extracted to disk, and everything is indexed in a SQLite database with a
deterministic CSV export. Re-running is safe: messages are keyed by their
Gmail id and re-ingestion replaces all previously stored state.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configFlag, "config", model.DefaultConfigPath(), "Path to YAML config file")
	f.StringVar(&credentialsFlag, "credentials", "credentials.json", "Path to OAuth client credentials JSON")
	f.StringVar(&tokenFlag, "token", "token.json", "Fallback path for the cached OAuth token")
	f.StringVar(&labelsFlag, "labels", "", "Comma-separated Gmail label names to download (required unless --list-labels)")
	f.BoolVar(&listLabelsFlag, "list-labels", false, "List available labels and exit")
	f.StringVar(&outDirFlag, "out-dir", "emails", "Directory for downloaded .eml files and attachments")
	f.StringVar(&dbFlag, "db", filepath.Join("emails", "emails.db"), "SQLite database path")
	f.Int64Var(&maxFlag, "max", 0, "Max number of messages to fetch (0 = no limit)")
	f.StringVar(&queryFlag, "query", "", "Additional Gmail search query (e.g. 'newer_than:1y')")
	f.StringVar(&markFlag, "mark-downloaded", "", "Gmail label to apply to downloaded messages (created if absent)")
	f.IntVar(&workersFlag, "workers", 0, "Concurrent message fetches (default from config, min 1)")
	f.BoolVar(&verboseFlag, "verbose", false, "Enable debug logging")
	f.BoolVar(&resetAuthFlag, "reset-auth", false, "Discard the cached OAuth token and re-authenticate")
}

func main() {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfig loads the YAML config and lets explicitly passed flags
// override it, so the file provides defaults and the CLI the final word.
func resolveConfig(cmd *cobra.Command) (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(configFlag)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("credentials") {
		cfg.CredentialsPath = credentialsFlag
	}
	if flags.Changed("token") {
		cfg.TokenPath = tokenFlag
	}
	if flags.Changed("out-dir") {
		cfg.ArchiveDir = outDirFlag
	}
	if flags.Changed("db") {
		cfg.DBPath = dbFlag
	}
	if flags.Changed("query") {
		cfg.Query = queryFlag
	}
	if flags.Changed("mark-downloaded") {
		cfg.MarkLabel = markFlag
	}
	if flags.Changed("max") {
		cfg.MaxMessages = maxFlag
	}
	if flags.Changed("workers") && workersFlag > 0 {
		cfg.Workers = workersFlag
	}
	if flags.Changed("labels") {
		cfg.Labels = splitLabels(labelsFlag)
	}

	return cfg, nil
}

func splitLabels(s string) []string {
	var labels []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			labels = append(labels, part)
		}
	}
	return labels
}

func run(cmd *cobra.Command, args []string) error {
	if verboseFlag {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.CredentialsPath); err != nil {
		return fmt.Errorf(
			"credentials file not found: %s (create OAuth credentials in the Google Cloud Console and download as credentials.json)",
			cfg.CredentialsPath,
		)
	}

	// Stop starting new message work on interrupt; already persisted
	// messages stay intact and anything in flight is re-ingested next run.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if resetAuthFlag {
		if err := gmail.ResetToken(cfg.TokenPath); err != nil {
			return err
		}
		log.Info("cached oauth token discarded")
	}

	client, err := gmail.NewClient(ctx, cfg.CredentialsPath, cfg.TokenPath)
	if err != nil {
		return err
	}

	if listLabelsFlag {
		labelMap, err := client.ListLabels(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(labelMap))
		for name := range labelMap {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s: %s\n", name, labelMap[name])
		}
		return nil
	}

	if len(cfg.Labels) == 0 {
		return fmt.Errorf("--labels is required (comma-separated names), or use --list-labels to view options")
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	s := syncer.New(client, st, archive.New(cfg.ArchiveDir), log, syncer.Options{
		Labels:    cfg.Labels,
		Query:     cfg.Query,
		MarkLabel: cfg.MarkLabel,
		Max:       cfg.MaxMessages,
		Workers:   cfg.Workers,
	})

	summary, err := s.Run(ctx)
	if err != nil {
		return err
	}

	for _, f := range summary.Failures {
		log.Warnf("skipped %s (%s): %v", f.MessageID, f.Stage, f.Err)
	}

	csvPath := filepath.Join(filepath.Dir(cfg.DBPath), "emails.csv")
	if err := st.ExportCSV(ctx, csvPath); err != nil {
		return fmt.Errorf("exporting csv: %w", err)
	}
	log.Infof("exported messages to %s", csvPath)

	log.Infof(
		"done: %d processed, %d skipped, %d attachments saved",
		summary.Processed, summary.Skipped(), summary.AttachmentsSaved,
	)
	return nil
}
