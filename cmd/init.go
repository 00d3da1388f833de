package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vecsync/vecsync/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a .vecsync.yml config file interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(config.DefaultConfigFile); err == nil {
			return fmt.Errorf("%s already exists; edit it directly or remove it first", config.DefaultConfigFile)
		}
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
