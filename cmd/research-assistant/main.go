package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wamiqreh/ai-research-assistant/ai/core/llm"
	"github.com/wamiqreh/ai-research-assistant/ai/metrics"
	"github.com/wamiqreh/ai-research-assistant/ai/research"
	"github.com/wamiqreh/ai-research-assistant/internal/profile"
	"github.com/wamiqreh/ai-research-assistant/internal/version"
	"github.com/wamiqreh/ai-research-assistant/plugin/mail"
	"github.com/wamiqreh/ai-research-assistant/server"
	apiv1 "github.com/wamiqreh/ai-research-assistant/server/router/api/v1"
)

var rootCmd = &cobra.Command{
	Use:   "research-assistant",
	Short: `A conversational deep-research assistant. Ask for a topic, answer a few focusing questions, and get a full research report.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Try to load .env from the current directory; absence is fine.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}
		if !instanceProfile.IsLLMEnabled() {
			slog.Error("no LLM API key configured, set RESEARCH_LLM_API_KEY")
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		llmService, err := llm.NewService(&llm.Config{
			Provider: instanceProfile.LLMProvider,
			Model:    instanceProfile.LLMModel,
			APIKey:   instanceProfile.LLMAPIKey,
			BaseURL:  instanceProfile.LLMBaseURL,
			Timeout:  instanceProfile.LLMTimeout,
		})
		if err != nil {
			slog.Error("failed to create LLM service", "error", err)
			return
		}
		slog.Info("LLM service initialized",
			"provider", instanceProfile.LLMProvider,
			"model", instanceProfile.LLMModel)

		// Warmup is best-effort; a failure only costs first-request latency.
		go func() {
			warmupCtx, warmupCancel := context.WithTimeout(ctx, 10*time.Second)
			defer warmupCancel()
			llmService.Warmup(warmupCtx)
		}()

		exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())

		managerOpts := []research.Option{research.WithMetrics(exporter)}
		if instanceProfile.MailEnabled {
			mailClient, err := mail.NewClient(mail.Config{
				APIKey:    instanceProfile.SendGridKey,
				FromEmail: instanceProfile.MailFrom,
				FromName:  instanceProfile.MailFromName,
				ToEmail:   instanceProfile.MailRecipient,
			})
			if err != nil {
				slog.Error("failed to create mail client", "error", err)
				return
			}
			managerOpts = append(managerOpts, research.WithMailer(research.NewMailer(llmService, mailClient)))
			slog.Info("report email delivery enabled", "recipient", instanceProfile.MailRecipient)
		}

		manager := research.NewManager(llmService, research.Config{
			SearchCount:         instanceProfile.SearchCount,
			TurnBudget:          instanceProfile.TurnBudget,
			MaxConcurrentSearch: instanceProfile.MaxConcurrentSearch,
			CoordinationMode:    instanceProfile.CoordinationMode,
		}, managerOpts...)

		driver := research.NewTurnDriver(manager,
			instanceProfile.ProgressPollInterval,
			instanceProfile.ProgressBuffer)

		researchService := apiv1.NewResearchService(driver)
		s, err := server.NewServer(ctx, instanceProfile, researchService, exporter)
		if err != nil {
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM. SIGTERM is what
		// most process managers send first.
		signal.Notify(c, terminationSignals...)

		if err := s.Start(ctx); err != nil {
			slog.Error("failed to start server", "error", err)
			return
		}

		printGreetings(instanceProfile)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		<-ctx.Done()
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 28080)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28080, "port of server")

	if err := viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("addr", rootCmd.PersistentFlags().Lookup("addr")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port")); err != nil {
		panic(err)
	}

	viper.SetEnvPrefix("research")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Research Assistant %s started successfully!\n", p.Version)

	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}

	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Coordination: %s\n", p.CoordinationMode)
	fmt.Printf("Searches per report: %d\n", p.SearchCount)
	if p.MailEnabled {
		fmt.Printf("Email delivery: enabled (%s)\n", p.MailRecipient)
	} else {
		fmt.Println("Email delivery: disabled")
	}

	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
		fmt.Printf("POST research requests to: http://localhost:%d/api/v1/research\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
		fmt.Printf("POST research requests to: http://%s:%d/api/v1/research\n", p.Addr, p.Port)
	}

	fmt.Println()
	fmt.Println("Happy researching!")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
