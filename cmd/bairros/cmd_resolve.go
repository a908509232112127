package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"bairrosgo/pkg/geo"
)

var (
	resolveLat  float64
	resolveLon  float64
	resolveJSON bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "informa o bairro de uma coordenada",
	Example: `  bairros resolve --lat -25.4284 --lon -49.2733
  bairros resolve --lat -25.4411 --lon -49.2897 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := geo.Point{Lon: resolveLon, Lat: resolveLat}
		if err := p.Validate(); err != nil {
			return err
		}
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
		r, err := a.manager.Resolver()
		if err != nil {
			return err
		}
		m, found := geo.Locate(r, p)

		out := cmd.OutOrStdout()
		if resolveJSON {
			return json.NewEncoder(out).Encode(struct {
				Lat   float64 `json:"lat"`
				Lon   float64 `json:"lon"`
				Found bool    `json:"found"`
				Name  string  `json:"name,omitempty"`
			}{p.Lat, p.Lon, found, m.Name()})
		}
		if !found {
			fmt.Fprintln(out, "not found")
			return nil
		}
		fmt.Fprintln(out, m.Name())
		return nil
	},
}

func init() {
	resolveCmd.Flags().Float64Var(&resolveLat, "lat", 0, "latitude (WGS84)")
	resolveCmd.Flags().Float64Var(&resolveLon, "lon", 0, "longitude (WGS84)")
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "print the result as JSON")
	_ = resolveCmd.MarkFlagRequired("lat")
	_ = resolveCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(resolveCmd)
}
