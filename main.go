// Package main implements shiftwatch, a CLI that watches the coop shift
// calendar for openings on one date and texts the member when a shift
// matching their time window and shift name appears.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"shiftwatch/pkg/shift"
	"shiftwatch/poll"
	"shiftwatch/scraper"
	"shiftwatch/session"
	"shiftwatch/sms"
	"shiftwatch/storage"
)

const (
	baseURL = "https://members.foodcoop.com"

	defaultSleepSecs   = 20
	defaultTimeoutMins = 300
)

type options struct {
	date      string
	shiftName string
	phone     string
	dbPath    string
	logLevel  string

	startHour   int
	endHour     int
	sleepSecs   int
	timeoutMins int

	keepSessionAlive bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "shiftwatch",
		Short:        "Watch the coop shift calendar and get a text when a matching shift opens",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.date, "date", "d", "", "Date you want your shift to be, MM-DD-YYYY (e.g. 04-13-2022)")
	cmd.Flags().IntVarP(&opts.startHour, "start-hour", "s", 0, "Earliest hour (1-24) the shift may start, inclusive")
	cmd.Flags().IntVarP(&opts.endHour, "end-hour", "e", 0, "Latest hour (1-24) the shift may end, inclusive")
	cmd.Flags().StringVar(&opts.shiftName, "shift", "all", "Name of the shift you want, e.g. 'checkout'")
	cmd.Flags().BoolVar(&opts.keepSessionAlive, "keep-session-alive", false, "Persist the login session to disk between polls")
	cmd.Flags().IntVar(&opts.sleepSecs, "sleep-time-secs", defaultSleepSecs, "Seconds to sleep between polls")
	cmd.Flags().IntVar(&opts.timeoutMins, "timeout-mins", defaultTimeoutMins, "Minutes until the watcher gives up")
	cmd.Flags().StringVar(&opts.phone, "phone-num", "", "Phone number to text")
	cmd.Flags().StringVar(&opts.dbPath, "db-path", "", "Session database path (defaults to the user cache dir)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "INFO", "Log verbosity: DEBUG, INFO, WARN or ERROR")

	for _, name := range []string{"date", "start-hour", "end-hour", "phone-num"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}

	return cmd
}

func run(ctx context.Context, opts *options) error {
	logger := newLogger(opts.logLevel)
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", "error", err)
	}

	username := os.Getenv("COOP_USERNAME")
	password := os.Getenv("COOP_PASSWORD")
	if username == "" || password == "" {
		return errors.New("COOP_USERNAME and COOP_PASSWORD must be set")
	}
	apiKey := os.Getenv("SMS_API_KEY")
	if apiKey == "" {
		return errors.New("SMS_API_KEY must be set")
	}

	criteria, err := buildCriteria(opts)
	if err != nil {
		return err
	}
	logger.Info("Shift date set", "date", criteria.TargetDate.Format("2006-01-02"))

	dbPath := opts.dbPath
	if dbPath == "" {
		dbPath = defaultDBPath()
	}

	store := storage.New(dbPath, logger)
	sessions := session.NewManager(store, baseURL, username, password, logger)
	scanner := scraper.New(baseURL, logger)
	notifier := sms.New(sms.NewTextbeltProvider(apiKey, logger), opts.phone, logger)
	loop := poll.New(sessions, scanner, notifier, opts.keepSessionAlive,
		time.Duration(opts.sleepSecs)*time.Second, logger)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(opts.timeoutMins)*time.Minute)
	defer cancel()

	return loop.Run(ctx, criteria)
}

func buildCriteria(opts *options) (shift.Criteria, error) {
	target, err := dateparse.ParseAny(opts.date,
		dateparse.PreferMonthFirst(true),
		dateparse.RetryAmbiguousDateWithSwap(true))
	if err != nil {
		return shift.Criteria{}, fmt.Errorf("date %q could not be parsed, want MM-DD-YYYY (e.g. 04-13-2022): %w", opts.date, err)
	}

	if opts.startHour < 1 || opts.startHour > 24 {
		return shift.Criteria{}, fmt.Errorf("start hour %d out of range 1-24", opts.startHour)
	}
	if opts.endHour < 1 || opts.endHour > 24 {
		return shift.Criteria{}, fmt.Errorf("end hour %d out of range 1-24", opts.endHour)
	}
	if float64(opts.startHour)+shift.DurationHours > float64(opts.endHour) {
		return shift.Criteria{}, fmt.Errorf("shifts are %.2f hours long, but the window from hour %d to %d allows for less than that",
			shift.DurationHours, opts.startHour, opts.endHour)
	}

	return shift.Criteria{
		TargetDate:  target,
		StartHour:   opts.startHour,
		EndHour:     opts.endHour,
		NamePattern: strings.ToLower(opts.shiftName),
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func defaultDBPath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		appDir := filepath.Join(dir, "shiftwatch")
		if err := os.MkdirAll(appDir, 0o700); err == nil {
			return filepath.Join(appDir, "session.db")
		}
	}
	return filepath.Join(os.TempDir(), "shiftwatch-session.db")
}
