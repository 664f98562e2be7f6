package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/labelbot/labelbot/internal/server"
	"github.com/labelbot/labelbot/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run history as a read-only JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()

		if cfg.Server.Username == "" || cfg.Server.Password == "" {
			utils.Log.Warn("server.username/server.password not set, the API is not protected")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.New(db, cfg.Server.Username, cfg.Server.Password).Start(ctx, cfg.Server.Listen)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "127.0.0.1:8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&dbPath, "dbpath", "", "Path to SQLite DB file (default is output.history_db)")
	serveCmd.Flags().String("user", "", "Basic auth username")

	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("server.username", serveCmd.Flags().Lookup("user"))
}
