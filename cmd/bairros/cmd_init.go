package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bairrosgo/pkg/config"
)

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "gera o arquivo de configuração com os valores padrão",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.GenerateDefault(configPath); err != nil {
			return fmt.Errorf("failed to generate config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Config file generated: %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initConfigCmd)
}
