package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baohengtao/redbook/pkg/logger"
	"github.com/baohengtao/redbook/pkg/models"
	"github.com/baohengtao/redbook/pkg/normalize"
	"github.com/baohengtao/redbook/pkg/rednote"
	"github.com/baohengtao/redbook/pkg/store"
)

var (
	userFolder string
	userYes    bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage which users get polled",
}

var userAddCmd = &cobra.Command{
	Use:   "add <user_id>",
	Short: "Opt a user in to note polling",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userDisableCmd = &cobra.Command{
	Use:   "disable <user_id>",
	Short: "Stop polling a user without deleting their data",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserDisable,
}

var userEnableCmd = &cobra.Command{
	Use:   "enable <user_id>",
	Short: "Resume polling a previously disabled user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserEnable,
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove <user_id>",
	Short: "Delete a user together with all stored notes",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserRemove,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked users and their polling state",
	RunE:  runUserList,
}

func init() {
	userAddCmd.Flags().StringVar(&userFolder, "folder", "", "collection folder for the user's media")
	userRemoveCmd.Flags().BoolVarP(&userYes, "yes", "y", false, "skip the confirmation prompt")

	userCmd.AddCommand(userAddCmd, userDisableCmd, userEnableCmd, userRemoveCmd, userListCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	userID := strings.TrimSpace(args[0])
	if !rednote.ValidUserID(userID) {
		return fmt.Errorf("invalid user id: %q", userID)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	st, err := store.Open(cfg.Storage.DatabasePath, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// The profile page is public, so the user can be verified and stored
	// even before a signed session is configured.
	client, err := buildClient(cfg)
	if err != nil {
		return err
	}
	pageData, err := client.UserPageData(context.Background(), userID)
	if err != nil {
		return fmt.Errorf("failed to fetch profile: %w", err)
	}
	user, err := normalize.ParseUser(pageData, userID)
	if err != nil {
		return err
	}
	if err := st.UpsertUser(user); err != nil {
		return err
	}

	userCfg := &models.UserConfig{
		UserID:    userID,
		Username:  user.Username,
		NoteFetch: true,
		Folder:    userFolder,
	}
	if existing, err := st.GetUserConfig(userID); err == nil {
		userCfg = existing
		userCfg.NoteFetch = true
		if userFolder != "" {
			userCfg.Folder = userFolder
		}
	}
	if err := st.SaveUserConfig(userCfg); err != nil {
		return err
	}

	fmt.Printf("added %s (%s), notes will be fetched on the next cycle\n", user.Username, userID)
	return nil
}

func setNoteFetch(userID string, enabled bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.DatabasePath, logger.GetLogger())
	if err != nil {
		return err
	}
	defer st.Close()

	userCfg, err := st.GetUserConfig(userID)
	if err != nil {
		return fmt.Errorf("user %s is not tracked", userID)
	}
	userCfg.NoteFetch = enabled
	return st.SaveUserConfig(userCfg)
}

func runUserDisable(cmd *cobra.Command, args []string) error {
	if err := setNoteFetch(args[0], false); err != nil {
		return err
	}
	fmt.Printf("polling disabled for %s\n", args[0])
	return nil
}

func runUserEnable(cmd *cobra.Command, args []string) error {
	if err := setNoteFetch(args[0], true); err != nil {
		return err
	}
	fmt.Printf("polling enabled for %s\n", args[0])
	return nil
}

func runUserRemove(cmd *cobra.Command, args []string) error {
	userID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.DatabasePath, logger.GetLogger())
	if err != nil {
		return err
	}
	defer st.Close()

	notes, err := st.NotesForUser(userID)
	if err != nil {
		return err
	}

	if !userYes {
		fmt.Printf("delete user %s and %d stored notes? [y/N] ", userID, len(notes))
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) != "y" {
			fmt.Println("aborted")
			return nil
		}
	}

	if err := st.DeleteUser(userID); err != nil {
		return err
	}
	fmt.Printf("removed %s (%d notes deleted); downloaded media was left in place\n", userID, len(notes))
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.DatabasePath, logger.GetLogger())
	if err != nil {
		return err
	}
	defer st.Close()

	configs, err := st.EnabledConfigs()
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		fmt.Println("no users are opted in")
		return nil
	}

	for _, c := range configs {
		state := "never synced"
		if c.NoteFetchAt != nil {
			state = fmt.Sprintf("synced %s, next %s",
				c.NoteFetchAt.Format("2006-01-02 15:04"),
				c.NoteNextFetch.Format("2006-01-02 15:04"))
		}
		fmt.Printf("%s  %-20s  cycle %-8s  %s\n", c.UserID, c.Username, c.PostCycle, state)
	}
	return nil
}
