package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	fastbreak "github.com/fastbreak-live/fastbreak-go"
	"github.com/spf13/cobra"
)

var (
	listenTeam     string
	listenPlayer   string
	listenGame     string
	listenDuration time.Duration
	listenJSON     bool
)

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringVar(&listenTeam, "team", "", "filter by team code (e.g. LAL)")
	listenCmd.Flags().StringVar(&listenPlayer, "player", "", "filter by player id")
	listenCmd.Flags().StringVar(&listenGame, "game", "", "filter by game id")
	listenCmd.Flags().DurationVar(&listenDuration, "duration", 0, "stop after this long (default: run until interrupted)")
	listenCmd.Flags().BoolVar(&listenJSON, "json", false, "print raw event payloads as JSON lines")
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream live events to the terminal",
	Long:  "Connect to the FastBreak event stream, apply the given filters,\nand print incoming events until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		filters := map[string]string{}
		if listenTeam != "" {
			filters["team"] = listenTeam
		}
		if listenPlayer != "" {
			filters["player"] = listenPlayer
		}
		if listenGame != "" {
			filters["game"] = listenGame
		}
		if len(filters) > 0 {
			client.Subscribe(filters)
		}

		registerPrinters(client)

		client.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Fprintf(os.Stderr, "connection lost, reconnecting in %s (attempt %d)\n", delay, attempt)
		})

		if err := connectAndWait(client, 15*time.Second); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "connected (session %s)\n", client.Token())

		ctx := cmd.Context()
		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if listenDuration > 0 {
			select {
			case <-sigCtx.Done():
			case <-time.After(listenDuration):
			}
		} else {
			<-sigCtx.Done()
		}

		client.Disconnect()
		return nil
	},
}

// registerPrinters wires either raw JSON printing or typed formatters for
// every known event family.
func registerPrinters(client *fastbreak.Client) {
	if listenJSON {
		for _, typ := range []string{
			fastbreak.EventPresence,
			fastbreak.EventNoteCreated,
			fastbreak.EventReactionAdded,
			fastbreak.EventGameUpdate,
			fastbreak.EventScoreUpdate,
		} {
			typ := typ
			client.On(typ, func(data json.RawMessage) {
				fmt.Printf("{\"type\":%q,\"data\":%s}\n", typ, string(data))
			})
		}
		return
	}

	client.OnScoreUpdate(func(p fastbreak.ScoreUpdatePayload) {
		fmt.Printf("[score] game=%s %d-%d period=%d clock=%s\n",
			p.GameID, p.HomeScore, p.AwayScore, p.Period, p.Clock)
	})
	client.OnGameUpdate(func(p fastbreak.GameUpdatePayload) {
		fmt.Printf("[game] %s vs %s status=%s period=%d clock=%s\n",
			p.HomeTeam, p.AwayTeam, p.Status, p.Period, p.Clock)
	})
	client.OnNoteCreated(func(p fastbreak.NotePayload) {
		fmt.Printf("[note] %s/%s %s: %s\n", p.ContextType, p.ContextID, p.Author, p.Content)
	})
	client.OnReactionAdded(func(p fastbreak.ReactionPayload) {
		fmt.Printf("[reaction] note=%s %s (%d)\n", p.NoteID, p.Reaction, p.Count)
	})
	client.OnPresence(func(p fastbreak.PresencePayload) {
		fmt.Printf("[presence] %s/%s viewers=%d\n", p.ContextType, p.ContextID, p.Count)
	})
}
