package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/slack-go/slack"

	"sentinela/domain/repository"
	"sentinela/orchestrator"
)

// Handle wires the repositories, tools and engine together and serves the
// webhook intake until the context is cancelled.
func Handle(ctx context.Context, configPath string) error {
	cfgRepository, err := repository.NewConfigRepository(configPath)
	if err != nil {
		return err
	}

	dynamoRepository, err := repository.NewDynamoDBRepository()
	if err != nil {
		return err
	}
	repo := repository.NewRepository(dynamoRepository, dynamoRepository)

	var summarizer repository.Summarizer
	aiRepository, err := repository.NewAIRepository()
	if err != nil {
		return err
	}
	if aiRepository != nil {
		summarizer = aiRepository
	} else {
		slog.Info("No model backend configured, using rule based summarizer")
		summarizer = repository.NewRuleSummarizer()
	}

	var notifier orchestrator.Notifier
	if os.Getenv("SLACK_BOT_TOKEN") != "" {
		slackRepository := repository.NewSlackRepository(slack.New(os.Getenv("SLACK_BOT_TOKEN")))
		notifier = orchestrator.NewSlackNotifier(slackRepository)
	} else {
		slog.Info("No Slack token configured, notifications go to the log")
		notifier = orchestrator.NewLogNotifier()
	}

	var exporter repository.ReportExporter
	if os.Getenv("CONFLUENCE_USERNAME") != "" && os.Getenv("CONFLUENCE_PASSWORD") != "" && cfgRepository.Confluence.Domain != "" {
		r, err := repository.NewConfluenceRepository(
			cfgRepository.Confluence.Domain,
			os.Getenv("CONFLUENCE_USERNAME"),
			os.Getenv("CONFLUENCE_PASSWORD"),
			cfgRepository.Confluence.Space,
			cfgRepository.Confluence.AncestorID,
		)
		if err != nil {
			return err
		}
		exporter = r
	}

	planner := orchestrator.NewPlanner(cfgRepository.AutomationScripts(ctx))
	dispatcher := orchestrator.NewDispatcher(
		repo,
		orchestrator.NewStubTicketer(),
		notifier,
		orchestrator.NewScriptRunner(cfgRepository),
	)
	engine := orchestrator.NewEngine(
		repo,
		planner,
		dispatcher,
		summarizer,
		exporter,
		cfgRepository.NotifyChannel,
		time.Duration(cfgRepository.ExecutionTimeoutSeconds)*time.Second,
		time.Duration(cfgRepository.SummaryTimeoutSeconds)*time.Second,
	)

	webhookHandler := NewWebhookHandler(engine, repo)

	server := &http.Server{
		Addr:         cfgRepository.HTTPAddr,
		Handler:      webhookHandler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Duration(cfgRepository.ExecutionTimeoutSeconds+cfgRepository.SummaryTimeoutSeconds) * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown server", slog.Any("err", err))
		}
	}()

	slog.Info("Listening", slog.String("addr", cfgRepository.HTTPAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
