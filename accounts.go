package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var adduserCmd = &cobra.Command{
	Use:   "adduser <username>",
	Short: "Create a relay account (enables relay auth)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		hash, err := promptPassword(fmt.Sprintf("Password for %s: ", username))
		if err != nil {
			return err
		}
		store, err := openDB()
		if err != nil {
			return err
		}
		defer store.Close()
		if _, err := store.CreateAccount(username, hash); err != nil {
			return fmt.Errorf("creating account: %w", err)
		}
		fmt.Printf("%s %s\n", color.GreenString("Account created:"), username)
		return nil
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Change a relay account password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		store, err := openDB()
		if err != nil {
			return err
		}
		defer store.Close()
		acc, err := store.GetAccountByUsername(username)
		if err != nil {
			return fmt.Errorf("user not found: %w", err)
		}
		hash, err := promptPassword(fmt.Sprintf("New password for %s: ", username))
		if err != nil {
			return err
		}
		if err := store.UpdateAccountPassword(acc.ID, hash); err != nil {
			return err
		}
		if err := store.DeleteRefreshTokensByAccount(acc.ID); err != nil {
			return err
		}
		fmt.Printf("%s %s (all sessions invalidated)\n", color.GreenString("Password updated:"), username)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adduserCmd, passwdCmd)
}

// promptPassword reads a password without echo and returns its bcrypt hash.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	if len(pw) == 0 {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword(pw, bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
