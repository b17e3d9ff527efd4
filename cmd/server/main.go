package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/game"
	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/httpapi"
	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/hub"
	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/objectives"
	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/snapshot"
)

type config struct {
	bind             string
	port             int
	objectivesPath   string
	disconnectPolicy string
	emptyGrace       time.Duration
	databaseURL      string
	verbose          bool
}

func (c *config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	switch game.DisconnectPolicy(c.disconnectPolicy) {
	case game.DisconnectRetain, game.DisconnectRemove:
	default:
		return fmt.Errorf("invalid disconnect policy %q (must be retain or remove)", c.disconnectPolicy)
	}
	return nil
}

func newCmd(cfg *config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BINGO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "bingo-server",
		Short:         "Real-time multiplayer bingo lobby server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: BINGO_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: BINGO_PORT)")
	fs.StringVar(&cfg.objectivesPath, "objectives", "objectives.json", "path to the objective catalog (env: BINGO_OBJECTIVES)")
	fs.StringVar(&cfg.disconnectPolicy, "disconnect-policy", "retain", "what happens to a participant on disconnect: retain or remove (env: BINGO_DISCONNECT_POLICY)")
	fs.DurationVar(&cfg.emptyGrace, "empty-grace", 5*time.Minute, "time before a lobby with no connections is disposed, 0 to disable (env: BINGO_EMPTY_GRACE)")
	fs.StringVar(&cfg.databaseURL, "database-url", "", "postgres dsn for the optional snapshot store (env: BINGO_DATABASE_URL)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BINGO_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	return cmd
}

func run(parent context.Context, cfg *config) error {
	logger, err := newLogger(cfg.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pool, err := objectives.Load(cfg.objectivesPath)
	if err != nil {
		return err
	}
	logger.Info("objective catalog loaded",
		zap.String("path", cfg.objectivesPath),
		zap.Int("objectives", len(pool)))

	var store *snapshot.Store
	if cfg.databaseURL != "" {
		store, err = snapshot.Open(cfg.databaseURL)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		logger.Info("snapshot store enabled")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.NewHub(ctx, hub.Options{
		EmptyGrace: cfg.emptyGrace,
		Logger:     logger,
	})

	rules := game.Rules{OnDisconnect: game.DisconnectPolicy(cfg.disconnectPolicy)}
	srv := httpapi.NewServer(h, pool, rules, store, logger)

	addr := net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port))
	server := &http.Server{
		Addr:    addr,
		Handler: httpapi.SetupRoutes(srv),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	_ = godotenv.Load() // a missing .env is fine
	cfg := &config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}
