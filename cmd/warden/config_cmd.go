package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"warden/internal/moderation/service"
	"warden/internal/platform/config"
)

var (
	initPath  string
	initForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the moderation config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default moderation settings and messages",
	Long: `Write a moderation config file holding the built-in durations,
permission nodes, command denylist and every message template, ready to be
edited. An existing file is left alone unless --force is given.`,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().StringVar(&initPath, "path", "warden.yml", "where to write the file")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	return writeDefaultConfig(cmd, initPath, initForce)
}

func writeDefaultConfig(cmd *cobra.Command, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	m := config.DefaultModeration()
	m.Messages = service.DefaultMessages()
	m.Lines = service.DefaultLines()
	if err := m.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
