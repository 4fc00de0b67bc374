package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	configx "github.com/tanpawarit/despensero/pkg/config"
	logx "github.com/tanpawarit/despensero/pkg/logger"
	_ "github.com/tanpawarit/despensero/pkg/logger/autoload"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:           "despensero",
	Short:         "El Despensero - pantry assistant over WhatsApp",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configx.SetEnvFile(envFile)
		// The autoload init ran before the .env file was read.
		logCfg, err := configx.New[logx.Config]("LOG")
		if err != nil {
			return err
		}
		logx.Init(*logCfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to a .env file (default ./.env when present)")
	rootCmd.AddCommand(serveCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("despensero exited")
		os.Exit(1)
	}
}
