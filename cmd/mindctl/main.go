package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mindjournal/internal/analyzer"
	"mindjournal/internal/config"
	"mindjournal/internal/devicestore"
	"mindjournal/internal/journal"
	"mindjournal/internal/llm"
	"mindjournal/internal/remote"
	"mindjournal/internal/services"
	"mindjournal/internal/syncstore"
)

const deviceUserKey = "device:user_id"

var version = "dev"

var (
	verbose    bool
	devicePath string
	userFlag   string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mindctl",
	Short:   "Inspect and sync a mindjournal device store",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if devicePath != "" {
			cfg.DevicePath = devicePath
		}
		if verbose {
			if logger, err = zap.NewDevelopment(); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&devicePath, "device", "", "Path to the device store (default DEVICE_DB_PATH)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User id (default: this device's anonymous id)")

	analyzeCmd.Flags().Bool("save", false, "Record the text as a journal entry")
	analyzeCmd.Flags().StringSlice("tag", nil, "Tag for the saved entry (repeatable)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(backlogCmd)
	rootCmd.AddCommand(syncCmd)
}

// env is what every command works against: the device store, a sync store in
// front of it and the journal service on top.
type env struct {
	device *devicestore.Store
	db     *sqlx.DB
	store  *syncstore.Store
	svc    *journal.Service
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
	e.device.Close()
}

func openEnv(ctx context.Context, requireRemote bool) (*env, error) {
	device, err := devicestore.Open(cfg.DevicePath)
	if err != nil {
		return nil, fmt.Errorf("opening device store: %w", err)
	}
	e := &env{device: device}

	var tables syncstore.RemoteTables = syncstore.Offline{}
	if cfg.DatabaseURL != "" {
		if e.db, err = sqlx.Open("pgx", cfg.DatabaseURL); err != nil {
			e.Close()
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := e.db.PingContext(ctx); err != nil {
			logger.Warn("database unreachable", zap.Error(err))
		}
		var sealer remote.Sealer
		if cfg.Encrypted() {
			encSvc, err := services.NewEncryptionService(cfg.EncryptionKey, cfg.BlindIndexKey)
			if err != nil {
				e.Close()
				return nil, err
			}
			sealer = encSvc
		}
		tables = remote.NewTables(e.db, sealer)
	} else if requireRemote {
		e.Close()
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	lex := analyzer.DefaultLexicon()
	if cfg.LexiconPath != "" {
		if lex, err = analyzer.LoadLexicon(cfg.LexiconPath); err != nil {
			e.Close()
			return nil, fmt.Errorf("loading lexicon: %w", err)
		}
	}

	e.store = syncstore.New(tables, device, logger.Named("syncstore"))
	e.svc = journal.NewService(e.store, analyzer.New(lex), llm.Disabled{}, logger.Named("journal"))
	return e, nil
}

// userID returns --user, or the anonymous id this device was given on first use.
func (e *env) userID() (string, error) {
	if userFlag != "" {
		return userFlag, nil
	}
	var id string
	found, err := e.device.Get(deviceUserKey, &id)
	if err != nil {
		return "", fmt.Errorf("reading device user: %w", err)
	}
	if found && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := e.device.Set(deviceUserKey, id); err != nil {
		return "", fmt.Errorf("saving device user: %w", err)
	}
	return id, nil
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <text>",
	Short: "Score the emotions in a piece of text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		text := strings.Join(args, " ")
		save, _ := cmd.Flags().GetBool("save")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		e, err := openEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		a := e.svc.Analyze(ctx, text, nil)
		fmt.Printf("Dominant: %s\n", a.Dominant)
		fmt.Printf("Score:    %.3f\n", a.Score)
		for _, em := range analyzer.Emotions {
			if v := a.Emotions[em]; v > 0 {
				fmt.Printf("  %-9s %.3f\n", em, v)
			}
		}

		if !save {
			return nil
		}
		user, err := e.userID()
		if err != nil {
			return err
		}
		res, err := e.svc.RecordEntry(ctx, user, text, tags)
		if err != nil {
			return fmt.Errorf("saving entry: %w", err)
		}
		where := "device backlog"
		if res.PersistedRemotely {
			where = "remote"
		}
		fmt.Printf("\nSaved entry %s (%s, intensity %d) to %s\n",
			res.Entry.ID, res.Entry.PrimaryEmotion, res.Entry.Intensity, where)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise recent emotion history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		user, err := e.userID()
		if err != nil {
			return err
		}
		report := e.svc.Report(ctx, user)
		if report == nil {
			fmt.Println("No entries yet.")
			return nil
		}

		fmt.Printf("Days:     %d\n", report.Days)
		fmt.Printf("Dominant: %s\n", report.Dominant)
		fmt.Printf("Score:    %.3f\n", report.Score)
		fmt.Println("\nTrends:")
		for _, em := range analyzer.Emotions {
			slope := report.Trends[em]
			switch {
			case slope > 0:
				fmt.Printf("  %-9s %s\n", em, analyzer.TrendRising)
			case slope < 0:
				fmt.Printf("  %-9s %s\n", em, analyzer.TrendFalling)
			}
		}
		if len(report.Recommendations) > 0 {
			fmt.Println("\nRecommendations:")
			for _, r := range report.Recommendations {
				fmt.Printf("  - %s\n", r)
			}
		}
		if len(report.Hints) > 0 {
			fmt.Println("\nHints:")
			for _, h := range report.Hints {
				fmt.Printf("  - %s\n", h)
			}
		}
		return nil
	},
}

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Show records waiting on this device to be synced",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.Close()

		pending, err := e.store.Status()
		if err != nil {
			return fmt.Errorf("reading backlog: %w", err)
		}
		if len(pending) == 0 {
			fmt.Println("Backlog is empty.")
			return nil
		}
		tables := make([]string, 0, len(pending))
		for t := range pending {
			tables = append(tables, t)
		}
		sort.Strings(tables)

		total := 0
		for _, t := range tables {
			fmt.Printf("  %-16s %d\n", t, pending[t])
			total += pending[t]
		}
		fmt.Printf("Total pending: %d\n", total)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay the device backlog into the remote tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.Close()

		reports, err := e.store.SyncAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("syncing: %w", err)
		}
		if len(reports) == 0 {
			fmt.Println("Nothing to sync.")
			return nil
		}
		for _, r := range reports {
			fmt.Printf("  %-16s synced %d/%d, %d remaining\n", r.Table, r.Synced, r.Attempted, r.Remaining)
		}
		return nil
	},
}
