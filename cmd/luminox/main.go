package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/luminox-dash/internal/luminox"
	"github.com/shaunagostinho/luminox-dash/internal/output"
	"github.com/shaunagostinho/luminox-dash/internal/output/console"
	"github.com/shaunagostinho/luminox-dash/internal/output/mqtt"
	"github.com/shaunagostinho/luminox-dash/internal/server"
	"github.com/shaunagostinho/luminox-dash/web"
)

func main() {
	configPath := flag.String("config", "/etc/luminox/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with a simulated sensor")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	debug := flag.Bool("debug", false, "Trace every sensor command and reply")
	once := flag.Bool("once", false, "Take a single reading, print it and exit")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] luminox-dash starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.Sensor.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *debug {
		cfg.Sensor.Debug = true
	}

	sensor := luminox.NewDevice(cfg.Sensor)

	if *once {
		os.Exit(readOnce(sensor))
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

	// Connect with exponential backoff, the dashboard starts regardless
	go connectWithRetry(ctx, "sensor", sensor, 10)

	var outputs []output.Output
	if cfg.MQTT.Enabled {
		out, err := mqtt.NewMQTT(mqtt.Config{
			Server:         cfg.MQTT.Server,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ClientID:       cfg.MQTT.ClientID,
			StateTopic:     cfg.MQTT.StateTopic,
			DiscoveryTopic: cfg.MQTT.DiscoveryTopic,
		})
		if err != nil {
			log.Printf("[main] mqtt disabled: %v", err)
		} else {
			outputs = append(outputs, out)
		}
	}

	srv := server.New(cfg, sensor, web.FS, outputs...)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
	// Run has stopped polling, nothing else touches the sensor now.
	sensor.Close()
}

// readOnce connects, takes one reading and prints it. The exit code is
// non-zero unless the reading is valid.
func readOnce(sensor luminox.Provider) int {
	if err := sensor.Connect(); err != nil {
		log.Printf("[main] connect failed: %v", err)
		return 2
	}
	defer sensor.Close()

	r, err := sensor.RequestData()
	if err != nil {
		log.Printf("[main] read failed: %v", err)
		return 2
	}
	console.NewConsole().Publish(*r)
	if !r.Valid {
		return 1
	}
	return 0
}

// connectable is satisfied by luminox.Provider.
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
