package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fieldctl",
	Short: "fieldctl is a command line tool for operating the fieldops job queue",
	Long: `fieldctl is the command-line interface for the fieldops webhook gateway's admin API.

Webhooks from the accounting system, timeclock vendors and internal services are
persisted by the gateway and processed asynchronously by workers through a
Postgres-backed job queue. Jobs that exhaust their attempts end up FAILED and stay
there until an operator retries them.

Common workflows:

  List failed jobs:
    fieldctl jobs list --status FAILED

  Inspect a job:
    fieldctl jobs get <job-id>

  Retry a failed job:
    fieldctl jobs retry <job-id>

  Re-enqueue a stored webhook event whose job was never created:
    fieldctl events enqueue <event-id>

Configuration:
  Set the gateway endpoint and admin token via flags, environment variables or a config file:
    FIELDOPS_URL      Gateway URL (default: http://localhost:6161)
    FIELDOPS_TOKEN    Admin token for authentication`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".fieldctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".fieldctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "FIELDOPS_VARNAME"
	viper.SetEnvPrefix("FIELDOPS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient returns a client for the configured gateway, or nil after
// printing a hint when no token is configured.
func newClient(cmd *cobra.Command) *AdminClient {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("Admin token not found. Please set it using the --token flag or the FIELDOPS_TOKEN environment variable")
		return nil
	}
	return NewAdminClient(viper.GetString("url"), token)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fieldctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "fieldops gateway URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Admin token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
