package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaunagostinho/pylonmon/internal/logger"
	"github.com/shaunagostinho/pylonmon/internal/metrics"
	"github.com/shaunagostinho/pylonmon/internal/poller"
	"github.com/shaunagostinho/pylonmon/internal/publish"
	"github.com/shaunagostinho/pylonmon/internal/pylon"
	"github.com/shaunagostinho/pylonmon/internal/server"
	"github.com/shaunagostinho/pylonmon/internal/table"
	"github.com/shaunagostinho/pylonmon/web"
)

func main() {
	configPath := flag.String("config", server.DefaultPath, "Path to config file")
	demo := flag.Bool("demo", false, "Run against a simulated battery console")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	device := flag.String("device", "", "Override battery console device path")
	once := flag.Bool("once", false, "Run a single exchange, print the report as JSON and exit")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] pylonmon starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.Device.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *device != "" {
		cfg.Device.Path = *device
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] invalid config: %v", err)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	decoder, err := newDecoder(cfg)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	if *once {
		os.Exit(runOnce(engine, decoder, cfg))
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	// Telemetry sink; polls before the broker is reachable fail as publish errors
	var pub publish.Publisher = publish.Log{}
	if cfg.MQTT.Server != "" {
		m := publish.NewMQTT(publish.MQTTConfig{
			Server:   cfg.MQTT.Server,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Timeout:  time.Duration(cfg.MQTT.TimeoutMs) * time.Millisecond,
		})
		defer m.Close()
		go connectWithRetry(ctx, "mqtt", m, 10)
		pub = m
	} else {
		log.Printf("[main] no mqtt server configured, logging payloads instead")
	}

	exporter := metrics.NewExporter()
	rec := logger.New(logger.Config{
		Enabled:    cfg.Logging.Enabled,
		Path:       cfg.Logging.Path,
		IntervalMs: cfg.Logging.Interval,
	})
	defer rec.Close()

	p := poller.New(poller.Config{
		Device:                 cfg.Device.Path,
		Command:                cfg.Poll.Command,
		Topic:                  cfg.MQTT.Topic,
		Interval:               cfg.PollInterval(),
		MaxConsecutiveFailures: cfg.Poll.MaxFailures,
	}, engine, decoder, pub)
	p.AddObserver(exporter)
	p.AddObserver(rec)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.ListenAddr != "" {
		srv := server.New(cfg, web.FS, exporter.Handler(), rec)
		p.AddObserver(srv)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error { return p.Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Printf("[main] exiting: %v", err)
		rec.Close()
		os.Exit(1)
	}
	log.Println("[main] stopped")
}

func newEngine(cfg *server.Config) (*pylon.Engine, error) {
	ec := pylon.DefaultConfig()
	switch cfg.Device.Type {
	case "serial":
		ec.Opener = pylon.SerialOpener{BaudRate: cfg.Device.BaudRate}
	case "demo":
		ec.Opener = pylon.NewDemoOpener()
	default:
		ec.Opener = pylon.RawOpener{}
	}
	ec.MaxRetries = cfg.Device.Retries
	ec.Probe = cfg.Device.Probe
	return pylon.New(ec)
}

func newDecoder(cfg *server.Config) (*table.Decoder, error) {
	strategy, err := table.ParseStrategy(cfg.Table.Strategy, table.PowerSchema())
	if err != nil {
		return nil, err
	}
	coercion, err := table.ParseCoercion(cfg.Table.Coercion)
	if err != nil {
		return nil, err
	}
	d := table.New(strategy, table.WithCoercion(coercion))
	log.Printf("[main] decoding with %s strategy (%s coercion)", d.Strategy(), d.Coercion())
	return d, nil
}

// runOnce performs one exchange and writes the report to stdout.
func runOnce(engine *pylon.Engine, decoder *table.Decoder, cfg *server.Config) int {
	text, err := engine.Execute(cfg.Device.Path, cfg.Poll.Command)
	if err != nil {
		log.Printf("[main] %v", err)
		return 1
	}
	report, err := decoder.Decode(text)
	if err != nil {
		log.Printf("[main] %v", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Printf("[main] %v", err)
		return 1
	}
	return 0
}

// connectable is satisfied by publish.MQTT.
type connectable interface {
	Connect() error
	Close() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, name string, c connectable, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.Connect(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
					name, attempt, maxAttempts, err, delay)
			} else {
				log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
					name, attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Printf("[%s] connected successfully (attempt %d)", name, attempt+1)
			return
		}
	}
}
