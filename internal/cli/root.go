// Package cli implements the marketlens command tree.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marketlens/gateway/internal/client"
	"github.com/marketlens/gateway/internal/session"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	developmentURL = "http://localhost:8080"
	productionURL  = "https://gateway.marketlens.app"

	defaultPollInterval = 2 * time.Second
	defaultWaitTimeout  = 10 * time.Minute
)

var timeNow = time.Now

// PromptFunc asks the user for one line of input.
type PromptFunc func(label string) (string, error)

type Option func(*app)

func WithOutput(w io.Writer) Option {
	return func(a *app) { a.out = w }
}

func WithPrompt(p PromptFunc) Option {
	return func(a *app) { a.prompt = p }
}

func WithClientOptions(opts ...client.Option) Option {
	return func(a *app) { a.clientOpts = append(a.clientOpts, opts...) }
}

type app struct {
	v          *viper.Viper
	out        io.Writer
	prompt     PromptFunc
	clientOpts []client.Option

	store  *session.Store
	client *client.Client
}

func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{
		v:   viper.New(),
		out: os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.prompt == nil {
		a.prompt = stdinPrompt(a.out, os.Stdin)
	}

	root := &cobra.Command{
		Use:           "marketlens",
		Short:         "Submit market analysis jobs to the MarketLens gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.String("api-url", "", "gateway base URL (overrides --env)")
	flags.String("env", EnvProduction, "target environment: development or production")
	flags.BoolP("verbose", "v", false, "log requests and retries to stderr")

	a.v.BindPFlag("api_url", flags.Lookup("api-url"))
	a.v.BindPFlag("env", flags.Lookup("env"))
	a.v.BindPFlag("verbose", flags.Lookup("verbose"))
	a.v.BindEnv("api_url", "MARKETLENS_API_URL")
	a.v.BindEnv("env", "MARKETLENS_ENV")
	a.v.BindEnv("verbose", "MARKETLENS_VERBOSE")

	root.AddCommand(
		a.loginCommand(),
		a.statusCommand(),
		a.logoutCommand(),
		a.submitCommand("analyze", "/analyze", "Run a full analysis for a symbol"),
		a.submitCommand("double", "/double", "Run the double-check analysis for a symbol"),
		a.submitCommand("earnings", "/forecast", "Forecast earnings for a symbol"),
		a.submitCommand("benchmark", "/benchmark", "Benchmark symbols against the market"),
		a.announcementsCommand(),
		a.resultsCommand(),
	)
	return root
}

func (a *app) init() error {
	configureLogging(a.v.GetBool("verbose"))

	baseURL, err := a.baseURL()
	if err != nil {
		return err
	}

	dir, err := session.DefaultDir()
	if err != nil {
		return err
	}
	a.store = session.NewStore(dir)
	a.client = client.New(baseURL, a.clientOpts...)

	log.Debug().Str("apiUrl", baseURL).Str("sessionDir", dir).Msg("cli configured")
	return nil
}

func (a *app) baseURL() (string, error) {
	if url := strings.TrimSpace(a.v.GetString("api_url")); url != "" {
		return url, nil
	}
	switch env := strings.ToLower(strings.TrimSpace(a.v.GetString("env"))); env {
	case EnvProduction, "":
		return productionURL, nil
	case EnvDevelopment, "dev":
		return developmentURL, nil
	default:
		return "", fmt.Errorf("unknown environment %q: set --env (or MARKETLENS_ENV) to development or production", env)
	}
}

func configureLogging(verbose bool) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func stdinPrompt(out io.Writer, in io.Reader) PromptFunc {
	reader := bufio.NewReader(in)
	return func(label string) (string, error) {
		fmt.Fprint(out, label)
		line, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
		}
		return strings.TrimSpace(line), nil
	}
}

func withWaitTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
