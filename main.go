package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"sentinela/cmd"
)

func validateEnv() error {
	// Slack, OpenAI and Confluence are optional; only the store region
	// wiring comes from the environment, and AWS SDK defaults cover it.
	conflicting := os.Getenv("OPENAI_API_KEY") != "" && os.Getenv("AZURE_OPENAI_KEY") != ""
	if conflicting {
		return fmt.Errorf("set only one of OPENAI_API_KEY and AZURE_OPENAI_KEY")
	}
	return nil
}

func main() {
	if _, err := os.Stat(".env"); err == nil {
		err := godotenv.Load()
		if err != nil {
			log.Fatal("Error loading .env file")
		}
	}
	if err := validateEnv(); err != nil {
		slog.Error("failed to validate environment", slog.Any("error", err))
		os.Exit(1)
	}

	if err := cmd.Execute(); err != nil {
		slog.Error("failed to execute command", slog.Any("error", err))
		os.Exit(1)
	}
}
