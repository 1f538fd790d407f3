package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-data-automation/internal/alerting"
	"market-data-automation/internal/config"
	"market-data-automation/internal/fetcher"
	"market-data-automation/internal/metrics"
	"market-data-automation/internal/pipeline"
	"market-data-automation/internal/service"
	"market-data-automation/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newProvider() (fetcher.Provider, error) {
	fc := a.Config.Fetch
	switch strings.ToLower(fc.Provider) {
	case fetcher.ProviderYahoo, "":
		return fetcher.NewYahooClient(a.Logger), nil
	case fetcher.ProviderAlphaVantage:
		return fetcher.NewAlphaVantageClient(fetcher.AlphaVantageOptions{
			APIKey:    fc.AlphaVantage.APIKey,
			BaseURL:   fc.AlphaVantage.BaseURL,
			Timeout:   fc.AlphaVantage.RequestTimeout,
			UserAgent: fc.AlphaVantage.UserAgent,
		}, a.Logger), nil
	case fetcher.ProviderChainlink:
		feeds, err := fetcher.ParseFeeds(fc.Chainlink.Feeds)
		if err != nil {
			return nil, err
		}
		return fetcher.NewChainlinkClient(fetcher.ChainlinkOptions{
			RPCURL:  fc.Chainlink.RPCURL,
			Feeds:   feeds,
			Timeout: fc.Chainlink.RequestTimeout,
		}, nil, a.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported quote provider %q", fc.Provider)
	}
}

func (a *App) newSource() (fetcher.Source, error) {
	provider, err := a.newProvider()
	if err != nil {
		return nil, err
	}
	return fetcher.New(provider, fetcher.RetryOptions{
		Attempts:    a.Config.Fetch.Attempts,
		Delay:       a.Config.Fetch.RetryDelay,
		SymbolDelay: a.Config.Fetch.SymbolDelay,
	}, a.Logger)
}

// newNotifier wires console plus every enabled channel. The returned closer
// releases the Kafka writer.
func (a *App) newNotifier() (*alerting.MultiNotifier, func(), error) {
	ac := a.Config.Alerting
	channels := []alerting.Channel{alerting.NewConsoleChannel(a.Out)}
	closer := func() {}

	if ac.Email.Enabled {
		email, err := alerting.NewEmailChannel(alerting.EmailOptions{
			Host:     ac.Email.Host,
			Port:     ac.Email.Port,
			Username: ac.Email.Username,
			Password: ac.Email.Password,
			From:     ac.Email.From,
			To:       ac.Email.To,
		}, nil, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, email)
	}

	if ac.Telegram.Enabled {
		channels = append(channels, alerting.NewTelegramChannel(ac.Telegram.BotToken, ac.Telegram.ChatID, ac.Telegram.APIBase, 10*time.Second, a.Logger))
	}

	if ac.Kafka.Enabled {
		writer, err := alerting.NewKafkaWriter(alerting.KafkaOptions{
			Brokers:      ac.Kafka.Brokers,
			Topic:        ac.Kafka.Topic,
			WriteTimeout: ac.Kafka.WriteTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		kafkaCh := alerting.NewKafkaChannel(writer, a.Logger)
		channels = append(channels, kafkaCh)
		closer = func() {
			if err := kafkaCh.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close kafka writer")
			}
		}
	}

	return alerting.NewMultiNotifier(a.Logger, channels...), closer, nil
}

func (a *App) newMetrics() *metrics.Recorder {
	return metrics.New(metrics.Options{
		PushgatewayURL: a.Config.Metrics.PushgatewayURL,
		Job:            a.Config.Metrics.Job,
		TextfilePath:   a.Config.Metrics.TextfilePath,
	})
}

func (a *App) openStore(ctx context.Context) (storage.QuoteStore, error) {
	store, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.Config.StorageDriver(), err)
	}
	return store, nil
}

func (a *App) newCleaner() *pipeline.Cleaner {
	return pipeline.NewCleaner(a.Logger)
}

func (a *App) newMirror() storage.Mirror {
	if a.Config.Storage.CSVPath == "" {
		return nil
	}
	return storage.NewCSVMirror(a.Config.Storage.CSVPath)
}

// runtime bundles what a batch run needs; close releases it.
type runtime struct {
	svc     *service.Service
	store   storage.QuoteStore
	metrics *metrics.Recorder
	close   func()
}

func (a *App) newRuntime(ctx context.Context) (*runtime, error) {
	source, err := a.newSource()
	if err != nil {
		return nil, err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		store.Close()
		return nil, err
	}

	rec := a.newMetrics()
	persister := storage.NewPersister(store, a.newMirror(), a.Logger)
	svc := service.New(a.Config, source, a.newCleaner(), persister, notifier, rec, a.Logger)

	return &runtime{
		svc:     svc,
		store:   store,
		metrics: rec,
		close: func() {
			closeNotifier()
			store.Close()
		},
	}, nil
}

func (a *App) logConfiguration() {
	a.Logger.Info().
		Str("provider", a.Config.Fetch.Provider).
		Strs("symbols", a.Config.Fetch.Symbols).
		Str("storage", a.Config.StorageDriver()).
		Str("csv_mirror", a.Config.Storage.CSVPath).
		Bool("email_alerts", a.Config.Alerting.Email.Enabled).
		Int("thresholds", len(a.Config.Alerting.Thresholds)).
		Msg("configuration loaded")
}

// ExportOptions hold parameters for exporting a symbol's stored history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Symbol string
	Limit  int
}

// ImportOptions configure re-ingesting a mirror CSV.
type ImportOptions struct {
	Path   string
	DryRun bool
}

// SimulateOptions describe a synthetic quote.
type SimulateOptions struct {
	Symbol string
	Price  float64
	Notify bool
}
