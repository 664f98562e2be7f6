package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/labelbot/labelbot/internal/config"
	"github.com/labelbot/labelbot/internal/utils"
	"github.com/labelbot/labelbot/pkg/whttp"
	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
)

const (
	LOGO = `	 _       _          _ _           _
	| | __ _| |__   ___| | |__   ___ | |_
	| |/ _' | '_ \ / _ \ | '_ \ / _ \| __|
	| | (_| | |_) |  __/ | |_) | (_) | |_
	|_|\__,_|_.__/ \___|_|_.__/ \___/ \__|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "labelbot",
	Short: "Moderation queue automation for LabelCraft.",
	Long: LOGO + `labelbot logs in to LabelCraft, works through a moderation queue and approves or
defers each item depending on whether its blog domain matches a pattern from the
shared spreadsheet. Every decision is written to a per-run Excel activity log.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.labelbot.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with LABELBOT_* variables")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy for pattern downloads (Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")

	viper.BindPFlag("proxy", rootCmd.PersistentFlags().Lookup("proxy"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Variables already present in the environment win over the dotenv file.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("Error loading %s: %s\n", envFile, err)
	}

	config.SetDefaults(viper.GetViper())

	home, err := homedir.Dir()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(home)
		viper.SetConfigName(config.FileName)
		viper.SetConfigType("yaml")
	}

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			configPath := filepath.Join(home, config.FileName+".yaml")
			if err := writeDefaultConfig(configPath); err != nil {
				fmt.Printf("Error creating config file: %s\n", err)
			}
		} else {
			fmt.Printf("Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}

	config.BindEnv(viper.GetViper())

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)

	if proxy := viper.GetString("proxy"); proxy != "" {
		if err := whttp.SetupProxy(proxy); err != nil {
			utils.Log.Fatal(err)
		}
	}
}

// writeDefaultConfig writes a config file holding only the built-in defaults.
// Flag, env and dotenv values never end up in it.
func writeDefaultConfig(path string) error {
	def := viper.New()
	config.SetDefaults(def)
	return def.SafeWriteConfigAs(path)
}

// loadConfig returns the typed configuration after flags were bound.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}
