// Command venuelink wires the configured venue adapters into the exchange
// manager and runs a connectivity probe loop until interrupted.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantfold/venuelink/config"
	"github.com/quantfold/venuelink/internal/adapters/binance"
	"github.com/quantfold/venuelink/internal/adapters/bybit"
	"github.com/quantfold/venuelink/internal/adapters/coinbase"
	"github.com/quantfold/venuelink/internal/adapters/kraken"
	"github.com/quantfold/venuelink/internal/adapters/oanda"
	"github.com/quantfold/venuelink/internal/adapters/okx"
	"github.com/quantfold/venuelink/internal/exchange"
	"github.com/quantfold/venuelink/internal/manager"
	"github.com/quantfold/venuelink/internal/observability"
	"github.com/quantfold/venuelink/internal/schema"
	"github.com/quantfold/venuelink/lib/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	probeEvery := flag.Duration("probe-interval", 30*time.Second, "how often to ping each venue")
	flag.Parse()

	observability.SetLogger(observability.StdLogger{})
	log := observability.Log()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config", observability.F("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, shutdownMetrics, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
	})
	if err != nil {
		log.Error("init telemetry", observability.F("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	streamErrors := make(chan error, 64)
	go func() {
		for err := range streamErrors {
			log.Error("stream error", observability.F("error", err))
		}
	}()

	mgr := manager.New()
	for _, venue := range config.Venues() {
		settings := cfg.Venues[venue]
		if !settings.Enabled {
			continue
		}
		adapter := buildAdapter(venue, settings, streamErrors)
		if adapter == nil {
			continue
		}
		if err := mgr.Register(adapter); err != nil {
			log.Error("register adapter",
				observability.F("venue", string(venue)),
				observability.F("error", err))
		}
	}
	if len(mgr.Names()) == 0 {
		log.Error("no venues enabled; set VENUELINK_<VENUE>_API_KEY or provide a config file")
		os.Exit(1)
	}

	if err := mgr.ConnectAll(ctx); err != nil {
		// Partial connectivity is fine; the probe loop reports per venue.
		log.Error("connect", observability.F("error", err))
	}

	log.Info("venuelink running", observability.F("venues", mgr.Names()))
	probe(ctx, mgr, *probeEvery)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.DisconnectAll(shutdownCtx); err != nil {
		log.Error("disconnect", observability.F("error", err))
	}
}

func buildAdapter(venue config.Venue, settings config.VenueSettings, errors chan<- error) exchange.Exchange {
	creds := schema.Credentials{
		Key:        settings.Credentials.Key,
		Secret:     settings.Credentials.Secret,
		Passphrase: settings.Credentials.Passphrase,
		AccountID:  settings.Credentials.AccountID,
		Testnet:    settings.Credentials.Testnet,
	}
	httpClient := &http.Client{Timeout: settings.HTTPTimeout}

	switch venue {
	case config.VenueBinance:
		return binance.New(binance.Options{
			Credentials:  creds,
			RESTBaseURL:  settings.RESTBaseURL,
			WebsocketURL: settings.WebsocketURL,
			HTTPClient:   httpClient,
			RateLimit:    settings.RateLimit,
			Errors:       errors,
		})
	case config.VenueKraken:
		return kraken.New(kraken.Options{
			Credentials: creds,
			RESTBaseURL: settings.RESTBaseURL,
			HTTPClient:  httpClient,
			RateLimit:   settings.RateLimit,
		})
	case config.VenueBybit:
		return bybit.New(bybit.Options{
			Credentials:  creds,
			RESTBaseURL:  settings.RESTBaseURL,
			WebsocketURL: settings.WebsocketURL,
			HTTPClient:   httpClient,
			RateLimit:    settings.RateLimit,
			Errors:       errors,
		})
	case config.VenueOKX:
		return okx.New(okx.Options{
			Credentials:  creds,
			RESTBaseURL:  settings.RESTBaseURL,
			WebsocketURL: settings.WebsocketURL,
			HTTPClient:   httpClient,
			RateLimit:    settings.RateLimit,
			Errors:       errors,
		})
	case config.VenueCoinbase:
		return coinbase.New(coinbase.Options{
			Credentials:  creds,
			RESTBaseURL:  settings.RESTBaseURL,
			WebsocketURL: settings.WebsocketURL,
			HTTPClient:   httpClient,
			RateLimit:    settings.RateLimit,
			Errors:       errors,
		})
	case config.VenueOANDA:
		return oanda.New(oanda.Options{
			Credentials: creds,
			RESTBaseURL: settings.RESTBaseURL,
			StreamURL:   settings.WebsocketURL,
			HTTPClient:  httpClient,
			RateLimit:   settings.RateLimit,
			Errors:      errors,
		})
	default:
		return nil
	}
}

// probe pings every registered venue on a fixed interval until ctx ends.
func probe(ctx context.Context, mgr *manager.Manager, every time.Duration) {
	log := observability.Log()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range mgr.Names() {
				adapter, err := mgr.Get(name)
				if err != nil {
					continue
				}
				latency, err := adapter.Ping(ctx)
				if err != nil {
					log.Error("probe failed",
						observability.F("venue", name),
						observability.F("error", err))
					continue
				}
				log.Debug("probe",
					observability.F("venue", name),
					observability.F("latency", latency))
			}
		}
	}
}
