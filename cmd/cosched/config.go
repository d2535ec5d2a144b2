package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cosched/cosched/internal/credential"
	"github.com/cosched/cosched/internal/model"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the agent configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a default configuration file to the --config path (or the
default location) if none exists, then print where to fill in the mail
endpoints.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configSetPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Store the mail password in the system keyring",
	Args:  cobra.NoArgs,
	RunE:  runConfigSetPassword,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetPasswordCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configFlag); err == nil {
		return fmt.Errorf("config already exists at %s", configFlag)
	}

	cfg, err := model.LoadConfig(configFlag)
	if err != nil {
		return err
	}
	if err := model.SaveConfig(configFlag, cfg); err != nil {
		return err
	}

	fmt.Printf("wrote %s\n", configFlag)
	fmt.Println("fill in mail.imap_host, mail.smtp_host, and mail.username,")
	fmt.Println("then run 'cosched config set-password'")
	return nil
}

func runConfigSetPassword(cmd *cobra.Command, args []string) error {
	cfg, err := model.LoadConfig(configFlag)
	if err != nil {
		return err
	}
	if cfg.Mail.Username == "" {
		return fmt.Errorf("set mail.username in %s first", configFlag)
	}

	fmt.Printf("password for %s: ", cfg.Mail.Username)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if len(password) == 0 {
		return fmt.Errorf("password must not be empty")
	}

	if err := credential.SetMailPassword(cfg.Mail.Username, string(password)); err != nil {
		return err
	}
	fmt.Println("password stored in system keyring")
	return nil
}
