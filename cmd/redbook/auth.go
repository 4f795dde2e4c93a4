package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/baohengtao/redbook/pkg/logger"
	"github.com/baohengtao/redbook/pkg/signer"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored browser sessions",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a session exported from a logged-in browser",
	Long: `Store the cookies of a logged-in browser session. Copy a1 and
web_session from the browser's cookies for xiaohongshu.com, and b1 from its
local storage. Values are kept in the system keychain when available,
otherwise in an encrypted file.`,
	RunE: runAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored sessions and verify the active one",
	RunE:  runAuthStatus,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout [account]",
	Short: "Delete a stored session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuthLogout,
}

func init() {
	authCmd.AddCommand(authLoginCmd, authStatusCmd, authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}

// promptSecret reads a value without echoing when stdin is a terminal
func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		value, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(value)), nil
	}
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func promptLine(label string) (string, error) {
	fmt.Printf("%s: ", label)
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	accountName := cfg.Session.Account
	if accountName == "" {
		if accountName, err = promptLine("Account name"); err != nil {
			return err
		}
	}
	if accountName == "" {
		return fmt.Errorf("account name is required")
	}

	a1, err := promptSecret("a1 cookie")
	if err != nil {
		return err
	}
	webSession, err := promptSecret("web_session cookie")
	if err != nil {
		return err
	}
	b1, err := promptSecret("b1 local storage value (optional)")
	if err != nil {
		return err
	}

	session := &signer.Session{
		Account: accountName,
		Cookies: map[string]string{
			"a1":          a1,
			"web_session": webSession,
		},
		UserAgent: cfg.Session.UserAgent,
	}
	if b1 != "" {
		session.LocalStorage = map[string]string{"b1": b1}
	}
	if err := session.Validate(); err != nil {
		return err
	}

	manager, err := signer.NewManager()
	if err != nil {
		return err
	}
	if err := manager.Store(session); err != nil {
		return err
	}
	fmt.Printf("session stored for %s\n", accountName)

	// Verify immediately when a signing service is configured
	if cfg.Session.SignerURL != "" {
		cfg.Session.Account = accountName
		client, err := buildClient(cfg)
		if err != nil {
			return err
		}
		me, err := client.Me(context.Background())
		if err != nil {
			logger.GetLogger().WithError(err).Warn("stored session failed verification")
			return nil
		}
		fmt.Printf("verified: logged in as %s\n", me.Nickname)
	}
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	manager, err := signer.NewManager()
	if err != nil {
		return err
	}
	sessions, err := manager.List()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no stored sessions")
		return nil
	}
	for _, s := range sessions {
		masked := signer.SanitizeSession(s)
		fmt.Printf("%s  a1=%s  stored %s\n",
			masked.Account, masked.Cookies["a1"], s.LastModified.Format("2006-01-02 15:04"))
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	accountName := cfg.Session.Account
	if len(args) == 1 {
		accountName = args[0]
	}
	if accountName == "" {
		return fmt.Errorf("specify the account to log out")
	}

	manager, err := signer.NewManager()
	if err != nil {
		return err
	}
	if err := manager.Delete(accountName); err != nil {
		return err
	}
	fmt.Printf("session deleted for %s\n", accountName)
	return nil
}
