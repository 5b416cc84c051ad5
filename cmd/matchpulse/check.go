package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/matchpulse/matchpulse/internal/config"
	"github.com/matchpulse/matchpulse/internal/engine"
	"github.com/matchpulse/matchpulse/internal/scoring"
	"github.com/matchpulse/matchpulse/internal/sleeper"
	"github.com/matchpulse/matchpulse/internal/store"
)

var (
	checkLeagueID string
	checkWeek     int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check engine decisions interactively",
	Long:  `Check what MatchPulse would compute for a given matchup or session, without running the server.`,
}

var checkTTLCmd = &cobra.Command{
	Use:   "ttl [DAY]",
	Short: "Show session expiry windows",
	Long:  `Show the heartbeat expiry window a session created on a given day (or every day) would get.`,
	Example: `  matchpulse check ttl
  matchpulse -c config.yaml check ttl sunday`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheckTTL,
}

var checkMatchupCmd = &cobra.Command{
	Use:   "matchup [flags] USER_ID",
	Short: "Compute a matchup view",
	Long:  `Fetch live league data and print the matchup view a session for this user would push.`,
	Example: `  matchpulse check matchup --league 992059813533286400 862528902407367168
  matchpulse check matchup --league 992059813533286400 --week 14 862528902407367168`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckMatchup,
}

func init() {
	checkMatchupCmd.Flags().StringVar(&checkLeagueID, "league", "", "League ID (required)")
	checkMatchupCmd.Flags().IntVar(&checkWeek, "week", 0, "Week number (defaults to the provider's current week)")
	checkMatchupCmd.MarkFlagRequired("league")

	checkCmd.AddCommand(checkTTLCmd)
	checkCmd.AddCommand(checkMatchupCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckTTL(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	windows := buildWindows(cfg.TTL)

	days := []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}
	if len(args) == 1 {
		day, err := config.ParseWeekday(args[0])
		if err != nil {
			return err
		}
		days = []time.Weekday{day}
	}

	primary := color.New(color.FgGreen, color.Bold)
	secondary := color.New(color.FgYellow)

	for _, day := range days {
		window := windows.For(day)
		switch {
		case day == windows.Primary:
			primary.Printf("%-10s %s  (primary event day)\n", day, window)
		case windows.Secondary[day]:
			secondary.Printf("%-10s %s  (secondary event day)\n", day, window)
		default:
			fmt.Printf("%-10s %s\n", day, window)
		}
	}

	return nil
}

func runCheckMatchup(cmd *cobra.Command, args []string) error {
	userID := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	provider, err := sleeper.NewClient(cfg.Sleeper, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize provider client: %w", err)
	}

	// Player names come from stored reference data when available.
	directory := engine.NewDirectory()
	if st, err := openStorage(cfg.Storage); err == nil && st != nil {
		defer st.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if players, err := st.Players().GetDirectory(ctx); err == nil {
			directory.Replace(players, time.Now())
		} else if !errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "warning: could not load player directory: %v\n", err)
		}
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	week := checkWeek
	if week == 0 {
		week, err = provider.CurrentWeek(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve current week: %w", err)
		}
	}

	aggregator := scoring.NewAggregator(provider, directory.Resolve, logger)
	views, err := aggregator.Aggregate(ctx, week, []scoring.MatchupRef{{
		SessionID: "check",
		UserID:    userID,
		LeagueID:  checkLeagueID,
	}})
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}

	view, ok := views["check"]
	if !ok {
		return fmt.Errorf("no matchup found for user %s in league %s week %d", userID, checkLeagueID, week)
	}

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen, color.Bold)

	fmt.Printf("Week %d\n", week)
	fmt.Println(strings.Repeat("-", 48))
	bold.Printf("%-24s", view.TeamName)
	fmt.Printf("%s\n", view.OpponentName)
	green.Printf("%-24.2f", view.TeamTotal)
	fmt.Printf("%.2f\n", view.OpponentTotal)
	fmt.Printf("%-24s", fmt.Sprintf("proj %.2f", view.TeamProjected))
	fmt.Printf("proj %.2f\n", view.OpponentProjected)
	fmt.Println(strings.Repeat("-", 48))
	fmt.Printf("Active starters: %d\n", view.ActivePlayers)
	if p := view.TopPerformer; p != nil {
		side := "opponent"
		if p.OwnRoster {
			side = "own"
		}
		fmt.Printf("Top performer:   %s (%s roster) %.2f pts, +%.2f this cycle\n", p.Name, side, p.Points, p.Delta)
	}

	return nil
}
