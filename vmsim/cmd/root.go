// Package cmd provides the command-line interface of vmsim.
package cmd

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
)

// envPrefix is prepended to the upper-cased flag names to find the
// environment variables that provide flag defaults.
const envPrefix = "VMSIM_"

var logger = logrus.New()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim exercises a demand-paged virtual memory core.",
	Long: `vmsim builds a frame pool, a swap device and a set of address ` +
		`spaces, and drives them with random loads, stores, pushes and ` +
		`forks, checking every load against what was stored. Flags can ` +
		`also be set in a .env file or with VMSIM_ environment variables.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadEnv(cmd.Flags()); err != nil {
			return err
		}

		levelName, _ := cmd.Flags().GetString("log-level")
		level, err := logrus.ParseLevel(levelName)
		if err != nil {
			return err
		}

		logger.SetLevel(level)

		return nil
	},
}

func init() {
	addRootFlags(rootCmd.PersistentFlags())
}

func addRootFlags(f *pflag.FlagSet) {
	f.String("log-level", "info",
		"the level of the log: trace, debug, info, warn or error")
	f.String("env-file", ".env",
		"a file of VMSIM_ variables that provide flag defaults")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}
}

// loadEnv fills the flags that are not set on the command line from the
// environment, after reading the env file into it. A missing env file is not
// an error.
func loadEnv(flags *pflag.FlagSet) error {
	envFile, _ := flags.GetString("env-file")

	err := godotenv.Load(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}

		name := envPrefix +
			strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))

		value, found := os.LookupEnv(name)
		if !found {
			return
		}

		if err := flags.Set(f.Name, value); err != nil {
			errs = append(errs, err)
		}
	})

	return errors.Join(errs...)
}
