package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	annotateContextType string
	annotateContextID   string

	reactContextType string
	reactContextID   string
	reactNoteID      string
)

func init() {
	rootCmd.AddCommand(annotateCmd)
	annotateCmd.Flags().StringVar(&annotateContextType, "type", "game", "context type (game, team, player)")
	annotateCmd.Flags().StringVar(&annotateContextID, "id", "", "context id")
	_ = annotateCmd.MarkFlagRequired("id")

	rootCmd.AddCommand(reactCmd)
	reactCmd.Flags().StringVar(&reactContextType, "type", "game", "context type (game, team, player)")
	reactCmd.Flags().StringVar(&reactContextID, "id", "", "context id")
	reactCmd.Flags().StringVar(&reactNoteID, "note", "", "annotation id to react to")
	_ = reactCmd.MarkFlagRequired("id")
	_ = reactCmd.MarkFlagRequired("note")
}

var annotateCmd = &cobra.Command{
	Use:   "annotate <content>...",
	Short: "Post an annotation into a live context",
	Long:  "Post an annotation into a live context.\nExample: fastbreak annotate --type game --id 0022400123 \"What a dunk!\"",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := connectAndWait(client, 15*time.Second); err != nil {
			return err
		}

		client.Annotate(annotateContextType, annotateContextID, strings.Join(args, " "))

		// Best-effort send: give the write a moment to flush before the
		// clean shutdown.
		time.Sleep(500 * time.Millisecond)
		client.Disconnect()

		fmt.Println("Annotation sent.")
		return nil
	},
}

var reactCmd = &cobra.Command{
	Use:   "react <reaction>",
	Short: "React to an annotation",
	Long:  "React to an annotation.\nExample: fastbreak react --type game --id 0022400123 --note note-42 fire",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := connectAndWait(client, 15*time.Second); err != nil {
			return err
		}

		client.React(reactContextType, reactContextID, reactNoteID, args[0])

		time.Sleep(500 * time.Millisecond)
		client.Disconnect()

		fmt.Println("Reaction sent.")
		return nil
	},
}
