package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/baohengtao/redbook/pkg/logger"
	"github.com/baohengtao/redbook/pkg/store"
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Inspect stored notes",
}

var noteLinkCmd = &cobra.Command{
	Use:   "link <note_id>",
	Short: "Generate a share link for a note",
	Args:  cobra.ExactArgs(1),
	RunE:  runNoteLink,
}

var noteListCmd = &cobra.Command{
	Use:   "list <user_id>",
	Short: "List a user's stored notes, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runNoteList,
}

func init() {
	noteCmd.AddCommand(noteLinkCmd, noteListCmd)
	rootCmd.AddCommand(noteCmd)
}

func runNoteLink(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := buildClient(cfg)
	if err != nil {
		return err
	}

	link, err := client.ShortLink(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Println(link)
	return nil
}

func runNoteList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.DatabasePath, logger.GetLogger())
	if err != nil {
		return err
	}
	defer st.Close()

	notes, err := st.NotesForUser(args[0])
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		fmt.Println("no stored notes for this user")
		return nil
	}

	for _, n := range notes {
		kind := "pics"
		count := len(n.Pics)
		if n.IsVideo() {
			kind = "video"
			count = 1
		}
		fmt.Printf("%s  %s  %-7s %2d %s  %s\n",
			n.ID, n.Time.Format("2006-01-02"), n.Type, count, kind, n.Title)
	}
	return nil
}
