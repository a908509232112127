package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var neighborhoodsCmd = &cobra.Command{
	Use:     "neighborhoods",
	Aliases: []string{"bairros", "ls"},
	Short:   "lista os bairros do conjunto de dados, na ordem em que são consultados",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.manager.Load(cmd.Context()); err != nil {
			return err
		}
		c, err := a.manager.Collection()
		if err != nil {
			return err
		}
		for i, name := range c.Names() {
			fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", i+1, name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(neighborhoodsCmd)
}
