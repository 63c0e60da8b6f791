package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gfx.cafe/util/go/gotel"
	"github.com/caddyserver/caddy/v2"
	_ "github.com/caddyserver/caddy/v2/modules/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	_ "gfx.cafe/gfx/appgat/lib/gat/standard"
)

var rootCmd = &cobra.Command{
	Use: "appgat",
	Long: `
	appgat pools application worker processes
`,
	Example: `  $ appgat run -c appgat.json
  `,
	SilenceUsage: true,
}

var configFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the application pool",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := os.ReadFile(configFile)
		if err != nil {
			return err
		}
		if err = caddy.Load(cfg, true); err != nil {
			return err
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		return caddy.Stop()
	},
}

func init() {
	rootCmd.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	runCmd.Flags().StringVarP(&configFile, "config", "c", "appgat.json", "config file")
	rootCmd.AddCommand(runCmd)
}

func main() {
	fn, _ := gotel.InitTracing(context.Background(), gotel.WithServiceName("appgat"))
	defer fn(context.Background())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
