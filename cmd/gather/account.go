package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/gatherapp/gather/internal/account"
	"github.com/gatherapp/gather/internal/ui"
	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:     "account",
	GroupID: "setup",
	Short:   "Manage local accounts",
	Long: `Create and check local accounts.

Accounts live in a YAML file next to the database (accounts.yaml by default).
Passwords are stored as bcrypt hashes. New accounts get the admin role.`,
}

var accountSignupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create a local account",
	Long: `Create a local account.

Missing --username or --password values are prompted for interactively.`,
	Run: func(cmd *cobra.Command, args []string) {
		username, password := credentials(cmd, "Create account")

		store := account.NewFileStore(cfg.Accounts.Path)
		user, err := store.Signup(username, password)
		if err != nil {
			if errors.Is(err, account.ErrUserExists) {
				fmt.Fprintf(os.Stderr, "Error: user %q already exists\n", username)
			} else {
				fmt.Fprintf(os.Stderr, "Error creating account: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("%s Account created for %s (%s)\n", ui.RenderPass("✓"), ui.RenderAccent(user.Username), user.Role)
	},
}

var accountLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check credentials of a local account",
	Run: func(cmd *cobra.Command, args []string) {
		username, password := credentials(cmd, "Log in")

		store := account.NewFileStore(cfg.Accounts.Path)
		user, err := store.Login(username, password)
		if err != nil {
			if errors.Is(err, account.ErrInvalidCredentials) {
				fmt.Fprintf(os.Stderr, "%s Invalid username or password\n", ui.RenderFail("✗"))
			} else {
				fmt.Fprintf(os.Stderr, "Error logging in: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("%s Logged in as %s (%s)\n", ui.RenderPass("✓"), ui.RenderAccent(user.Username), user.Role)
		if len(user.Groups) > 0 {
			ids := make([]string, len(user.Groups))
			for i, id := range user.Groups {
				ids[i] = fmt.Sprint(id)
			}
			fmt.Println(ui.Field("   Groups", strings.Join(ids, ", ")))
		}
	},
}

// credentials reads --username and --password, prompting for whichever
// is missing.
func credentials(cmd *cobra.Command, title string) (string, string) {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")

	var fields []huh.Field
	if username == "" {
		fields = append(fields, huh.NewInput().
			Title("Username").
			Value(&username).
			Validate(required("username")))
	}
	if password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(required("password")))
	}

	if len(fields) > 0 {
		form := huh.NewForm(huh.NewGroup(fields...).Title(title))
		if err := form.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	return strings.TrimSpace(username), password
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func init() {
	for _, c := range []*cobra.Command{accountSignupCmd, accountLoginCmd} {
		c.Flags().StringP("username", "u", "", "account username")
		c.Flags().StringP("password", "p", "", "account password (prompted when empty)")
		accountCmd.AddCommand(c)
	}

	rootCmd.AddCommand(accountCmd)
}
