package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/config"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/logger"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/pipeline"
)

var rootCmd = &cobra.Command{
	Use:           "etl",
	Short:         "etl cli for the footfall, weather and holidays pipelines",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newHolidaysCmd())
	rootCmd.AddCommand(newForecastCmd())
	rootCmd.AddCommand(newHistoricCmd())
	rootCmd.AddCommand(newFootfallCmd())
}

func isRunningOnCI() bool {
	return os.Getenv("GITHUB_ACTIONS") == "true"
}

func initializeConfigAndLogger() (*config.Config, *slog.Logger, error) {
	log := logger.NewLogger()
	if !isRunningOnCI() {
		if err := godotenv.Load(); err != nil {
			log.Warn("No .env file loaded", "error", err.Error())
		}
	}

	baseConfigFile, err := os.Open("config.base.yaml")
	if err != nil {
		log.Error(fmt.Sprintf("Error opening base config file: %v", err))
		return nil, nil, err
	}
	defer baseConfigFile.Close()

	// Environment-specific config is optional.
	env := os.Getenv("APP_ENV")
	var envConfigFile *os.File
	envConfigFilename := fmt.Sprintf("config.%s.yaml", env)
	if _, err := os.Stat(envConfigFilename); err == nil {
		envConfigFile, err = os.Open(envConfigFilename)
		if err != nil {
			log.Error(fmt.Sprintf("Error opening environment config file: %v", err))
			return nil, nil, err
		}
		defer envConfigFile.Close()
	}

	cfg, err := config.NewConfig(baseConfigFile, envConfigFile, env)
	if err != nil {
		log.Error(fmt.Sprintf("Error reading config: %v", err))
		return nil, nil, err
	}

	return cfg, log, nil
}

// runPipeline is the shared body of every pipeline subcommand: load and
// validate the settings document, build the pipeline, run it once. The
// orchestrator invoking the command owns scheduling and run-level retries.
func runPipeline(settingsPath string, configure func(*pipeline.Pipeline)) error {
	cfg, log, err := initializeConfigAndLogger()
	if err != nil {
		return err
	}

	settingsFile, err := os.Open(settingsPath)
	if err != nil {
		log.Error(fmt.Sprintf("Error opening settings file: %v", err))
		return err
	}
	defer settingsFile.Close()

	settings, err := config.NewSettings(settingsFile)
	if err != nil {
		log.Error(fmt.Sprintf("Error reading settings: %v", err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(ctx, cfg, settings, log)
	if err != nil {
		log.Error(fmt.Sprintf("Error building pipeline: %v", err))
		return err
	}
	defer p.Close()

	if configure != nil {
		configure(p)
	}

	return p.Run(ctx)
}
