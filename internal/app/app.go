package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nimbusmail/mailsync/internal/api"
	"github.com/nimbusmail/mailsync/internal/auth"
	"github.com/nimbusmail/mailsync/internal/config"
	"github.com/nimbusmail/mailsync/internal/embeddings"
	natsjs "github.com/nimbusmail/mailsync/internal/nats"
	"github.com/nimbusmail/mailsync/internal/provider"
	"github.com/nimbusmail/mailsync/internal/store"
	syncer "github.com/nimbusmail/mailsync/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:   "mailsync",
	Short: "Mailbox sync and search service",
	Long:  "Incrementally syncs linked mailboxes from the remote provider into SQLite and serves a threaded, searchable view over HTTP",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and continuous sync workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.close()

		// Resume continuous sync for every known account.
		accounts, err := deps.store.AllAccounts(ctx)
		if err != nil {
			return fmt.Errorf("listing accounts: %w", err)
		}
		for _, acct := range accounts {
			if err := deps.manager.StartSync(ctx, acct.ID); err != nil {
				log.Printf("app: starting sync for account %s: %v", acct.ID, err)
			}
		}

		if deps.publisher != nil {
			go deps.manager.DispatchOutbox(ctx, deps.publisher)
		}

		server := &http.Server{
			Addr:    config.HTTPAddr(),
			Handler: deps.api.Router(),
		}

		errChan := make(chan error, 1)
		go func() {
			log.Printf("app: listening on %s", server.Addr)
			errChan <- server.ListenAndServe()
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigChan:
			log.Println("app: shutting down")
			cancel()
			deps.manager.StopAll()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		case err := <-errChan:
			return err
		}
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <account-id>",
	Short: "Run a single sync pass for one account and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.close()

		count, err := deps.runner.SyncAccount(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("synced %d emails\n", count)
		return nil
	},
}

type deps struct {
	store     *store.Store
	runner    *syncer.Runner
	manager   *syncer.Manager
	publisher *natsjs.Publisher
	api       *api.Server
}

func (d *deps) close() {
	if d.publisher != nil {
		d.publisher.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
}

func buildDeps() (*deps, error) {
	st, err := store.Open(config.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	providerClient := provider.NewClient(config.ProviderURL(),
		provider.WithDaysWithin(config.DaysWithin()),
		provider.WithPollInterval(config.PollInterval()),
		provider.WithPollTimeout(config.PollTimeout()),
	)

	var embedder embeddings.Embedder = embeddings.None{}
	if key := config.OpenAIKey(); key != "" {
		embedder = embeddings.NewOpenAI(key)
	}

	runner := &syncer.Runner{
		Store:      st,
		Source:     providerClient,
		Reconciler: syncer.NewReconciler(st, config.SyncConcurrency()),
		Embedder:   embedder,
	}

	var tokens syncer.TokenRefresher
	if url := config.TokenURL(); url != "" {
		tokens = auth.NewTokenClient(url)
	}
	manager := syncer.NewManager(runner, config.SyncInterval(), tokens)

	var publisher *natsjs.Publisher
	if url := config.NATSURL(); url != "" {
		publisher, err = natsjs.NewPublisher(url)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
	}

	var verifier *auth.JWTVerifier
	if url := config.JWKSURL(); url != "" {
		verifier, err = auth.NewJWTVerifier(url)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("initializing JWT verifier: %w", err)
		}
	}

	return &deps{
		store:     st,
		runner:    runner,
		manager:   manager,
		publisher: publisher,
		api:       api.NewServer(st, runner, manager, providerClient, embedder, verifier),
	}, nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("http.addr", ":8080", "API listen address")
	rootCmd.PersistentFlags().String("database.path", "data/mailsync.db", "SQLite database path")
	rootCmd.PersistentFlags().String("provider.api_url", "https://api.aurinko.io/v1", "Mail provider API base URL")
	rootCmd.PersistentFlags().Int("provider.days_within", 1, "How many days back an initial sync reaches")
	rootCmd.PersistentFlags().String("nats.url", "", "NATS server URL; empty disables event publishing")
	rootCmd.PersistentFlags().String("auth.jwks_url", "", "JWKS URL for API token verification; empty disables auth")
	rootCmd.PersistentFlags().String("auth.token_url", "", "Auth service URL for provider token refresh")
	rootCmd.PersistentFlags().String("openai.api_key", "", "OpenAI API key; empty disables embeddings")

	viper.BindPFlag("http.addr", rootCmd.PersistentFlags().Lookup("http.addr"))
	viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("database.path"))
	viper.BindPFlag("provider.api_url", rootCmd.PersistentFlags().Lookup("provider.api_url"))
	viper.BindPFlag("provider.days_within", rootCmd.PersistentFlags().Lookup("provider.days_within"))
	viper.BindPFlag("nats.url", rootCmd.PersistentFlags().Lookup("nats.url"))
	viper.BindPFlag("auth.jwks_url", rootCmd.PersistentFlags().Lookup("auth.jwks_url"))
	viper.BindPFlag("auth.token_url", rootCmd.PersistentFlags().Lookup("auth.token_url"))
	viper.BindPFlag("openai.api_key", rootCmd.PersistentFlags().Lookup("openai.api_key"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
}

func initConfig() {
	config.SetDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("MAILSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
