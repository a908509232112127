package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"bairrosgo/pkg/config"
	"bairrosgo/pkg/geo"
	"bairrosgo/pkg/request"
)

var fetchForce bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "baixa o conjunto de dados remoto e o guarda no cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Dataset.Source != config.SourceURL {
			return fmt.Errorf("dataset.source is %q; fetch needs %q", cfg.Dataset.Source, config.SourceURL)
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		loader := a.loader
		if fetchForce {
			loader = loader.Refreshing()
		}

		var progress request.ProgressFunc
		if isatty.IsTerminal(os.Stderr.Fd()) {
			var bar *progressbar.ProgressBar
			progress = func(done, total int64) {
				if bar == nil {
					bar = progressbar.NewOptions64(total,
						progressbar.OptionSetDescription("Baixando bairros"),
						progressbar.OptionSetWriter(os.Stderr),
						progressbar.OptionShowBytes(true),
						progressbar.OptionClearOnFinish(),
					)
				}
				_ = bar.Set64(done)
			}
		}

		data, err := loader.Fetch(cmd.Context(), progress)
		if err != nil {
			return err
		}

		// The download is cached now, so the plain loader decodes it without a second request.
		records, err := a.loader.Load(cmd.Context())
		if err != nil {
			return err
		}
		c := geo.NewCollection(records)
		fmt.Fprintf(cmd.OutOrStdout(), "%d bytes, %d bairros (%s)\n", len(data), c.Len(), loader.Describe())
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVarP(&fetchForce, "force", "f", false, "ignore the cached copy")
	rootCmd.AddCommand(fetchCmd)
}
