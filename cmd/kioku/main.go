package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"kioku/internal/app"
	"kioku/internal/config"
	"kioku/internal/encryption"
	"kioku/internal/kioku"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "AddCard", "Sync").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	offline, _ := cmd.Flags().GetBool("offline")
	a, err := app.NewApp(cmd.Context(), cfg, operation, app.Options{Offline: offline})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// deckArg builds the deck key from a note name argument and the --sub flag.
func deckArg(cmd *cobra.Command, note string) (kioku.DeckKey, error) {
	sub, _ := cmd.Flags().GetString("sub")
	return app.Deck(note, sub)
}

// unlock prompts for the passphrase when remote blobs are encrypted.
func unlock(a *app.App) error {
	if !a.NeedsUnlock() {
		return nil
	}
	pass, err := promptPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	return a.Unlock(pass)
}

var rootCmd = &cobra.Command{
	Use:          "kioku",
	Short:        "Flashcard review with offline-first deck sync",
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

		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			userID = uuid.New().String()
		}
		cfg := config.NewConfig(userID, defaults["base_dir"])

		if encrypt, _ := cmd.Flags().GetBool("encrypt"); encrypt {
			cfg.Encryption.Type = "age"
			enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
			if err != nil {
				return err
			}
			pass, err := promptNewPassphrase()
			if err != nil {
				return err
			}
			if err := enc.Setup(pass); err != nil {
				return fmt.Errorf("generating keys: %w", err)
			}
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("User ID:    %s\n", userID)
		fmt.Printf("Data Dir:   %s\n", cfg.DataDir)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
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
		fmt.Printf("User ID:    %s\n", cfg.UserID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Data Dir:   %s\n", cfg.DataDir)
		fmt.Printf("Remote:     %s\n", cfg.Remote.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		fmt.Printf("Queue:      %s\n", cfg.Queue.Type)
		return nil
	},
}

// card command
var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Manage cards",
}

var cardAddCmd = &cobra.Command{
	Use:   "add DECK FILE",
	Short: "Add a card from a JSON file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := deckArg(cmd, args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "AddCard")
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.AddCard(cmd.Context(), key, args[1])
		if err != nil {
			return fmt.Errorf("adding card: %w", err)
		}
		fmt.Printf("Added card %s to %s\n", id, key)
		return nil
	},
}

var cardUpdateCmd = &cobra.Command{
	Use:   "update DECK ID FILE",
	Short: "Replace a card with the content of a JSON file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := deckArg(cmd, args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "UpdateCard")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.UpdateCard(cmd.Context(), key, args[1], args[2]); err != nil {
			return fmt.Errorf("updating card: %w", err)
		}
		fmt.Printf("Updated card %s in %s\n", args[1], key)
		return nil
	},
}

var cardRmCmd = &cobra.Command{
	Use:   "rm DECK ID",
	Short: "Remove a card",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := deckArg(cmd, args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "RemoveCard")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveCard(cmd.Context(), key, args[1]); err != nil {
			return fmt.Errorf("removing card: %w", err)
		}
		fmt.Printf("Removed card %s from %s\n", args[1], key)
		return nil
	},
}

var cardShowCmd = &cobra.Command{
	Use:   "show DECK ID",
	Short: "Print a card",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := deckArg(cmd, args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "GetCard")
		if err != nil {
			return err
		}
		defer a.Close()

		card, err := a.GetCard(key, args[1])
		if err != nil {
			return err
		}
		printCard(card)
		return nil
	},
}

func printCard(card kioku.CardRecord) {
	var out bytes.Buffer
	if err := json.Indent(&out, card.Data, "", "  "); err != nil {
		fmt.Println(string(card.Data))
		return
	}
	fmt.Println(out.String())
}

// deck command
var deckCmd = &cobra.Command{
	Use:   "deck",
	Short: "Inspect decks",
}

var deckListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local decks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListDecks")
		if err != nil {
			return err
		}
		defer a.Close()

		decks, err := a.ListDecks(cmd.Context())
		if err != nil {
			return err
		}
		if len(decks) == 0 {
			fmt.Println("No decks found.")
			return nil
		}
		for _, d := range decks {
			queued := ""
			if d.Queued {
				queued = "  [unsynced: " + string(d.Reason) + "]"
			}
			fmt.Printf("%-30s %5d card(s)%s\n", d.Key, d.Active, queued)
		}
		return nil
	},
}

// review command
var reviewCmd = &cobra.Command{
	Use:   "review DECK",
	Short: "Review the cards of a deck",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := deckArg(cmd, args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "Review")
		if err != nil {
			return err
		}
		defer a.Close()

		in := bufio.NewReader(os.Stdin)
		sum, err := a.Review(cmd.Context(), key, func(_ context.Context, card kioku.CardRecord) (app.Answer, error) {
			fmt.Println()
			printCard(card)
			ans, err := readAnswer(in, os.Stdout)
			if err != nil {
				return app.AnswerQuit, err
			}
			switch ans {
			case "y":
				return app.AnswerCorrect, nil
			case "n":
				return app.AnswerWrong, nil
			default:
				return app.AnswerQuit, nil
			}
		})
		if err != nil {
			return err
		}

		status := "stopped"
		if sum.Complete {
			status = "complete"
		}
		fmt.Printf("\nReview %s: %d answered, %d correct, %d pass(es)\n", status, sum.Answered, sum.Correct, sum.Passes)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync [DECK]",
	Short: "Sync one deck, or every queued deck",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}

		if len(args) == 0 {
			rep, err := a.SyncAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			if rep.Skipped {
				fmt.Println("Another sync is already running.")
				return nil
			}
			fmt.Printf("Synced %d of %d deck(s), %d failed\n", rep.Synced, rep.Attempted, rep.Failed)
			return nil
		}

		key, err := deckArg(cmd, args[0])
		if err != nil {
			return err
		}
		rep, err := a.Sync(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		fmt.Printf("%s: pulled %d, removed %d, pushed %d, deleted %d, %d active card(s)\n",
			key, rep.Pulled, rep.Removed, rep.Pushed, rep.Deleted, rep.ActiveCount)
		return nil
	},
}

// daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep syncing queued decks in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")

		a, err := newApp(cmd, "Daemon")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.Daemon(ctx, interval)
	},
}

// queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the unsynced queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List decks waiting for sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "QueueList")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.QueueEntries(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Nothing to sync.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%-30s %-8s queued %s  attempts %d  next %s\n",
				e.Key(),
				e.Reason,
				e.QueuedAt.Format("2006-01-02 15:04:05"),
				e.Attempts,
				e.NextAttemptAt.Format("2006-01-02 15:04:05"),
			)
			if e.LastError != "" {
				fmt.Printf("    last error: %s\n", e.LastError)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("sub", "", "Sub folder of the deck")
	rootCmd.PersistentFlags().Bool("offline", false, "Treat the network as unavailable")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("user", "", "User ID (default: a new random ID)")
	configInitCmd.Flags().Bool("encrypt", false, "Encrypt remote blobs with a new age key pair")

	// card subcommands
	cardCmd.AddCommand(cardAddCmd)
	cardCmd.AddCommand(cardUpdateCmd)
	cardCmd.AddCommand(cardRmCmd)
	cardCmd.AddCommand(cardShowCmd)

	deckCmd.AddCommand(deckListCmd)
	queueCmd.AddCommand(queueListCmd)
	daemonCmd.Flags().Duration("interval", app.DefaultProbeInterval, "How often to check that the remote is reachable")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cardCmd)
	rootCmd.AddCommand(deckCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(queueCmd)
}
