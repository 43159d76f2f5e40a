// Command acusim runs a simulated Antenna Control Unit.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/w1xm/acusim/acu"
	"github.com/w1xm/acusim/config"
	"github.com/w1xm/acusim/internal/mdns"
	"github.com/w1xm/acusim/monitor"
	"github.com/w1xm/acusim/sink"
	"github.com/w1xm/acusim/transport"
)

var (
	configPath = flag.String("config", "", "YAML configuration file")
	logFile    = flag.String("log_file", "", "write logs to this file, rotated by size")
	staticDir  = flag.String("static_dir", "", "directory containing static files for the monitor")
	password   = flag.String("password", "", "password to require on monitor commands")
	mdnsName   = flag.String("mdns", "", "advertise the command port under this instance name")
)

func main() {
	flag.Parse()
	if *logFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		})
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	sys := acu.New(ctx, cfg.System())
	defer sys.Close()
	log.Printf("simulating ACU: motors %v, %d byte status telegrams every %v", sys.Config().MotorCounts(), sys.Config().TelegramLength(), cfg.SamplingTime)

	sinks, err := openSinks(ctx, cfg.Sinks)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range sinks {
			s.Close()
		}
	}()

	srv := transport.NewServer(sys)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sys.Run(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx, cfg.Listen.Command, cfg.Listen.Status) })
	if cfg.Listen.Monitor != "" {
		mon := monitor.NewServer(sys)
		mon.StaticDir = *staticDir
		mon.Password = *password
		mon.Stats = func() interface{} { return srv.Stats() }
		g.Go(func() error { return mon.ListenAndServe(ctx, cfg.Listen.Monitor) })
	}
	if len(sinks) > 0 {
		g.Go(func() error { return sink.Run(ctx, sys, time.Duration(cfg.Sinks.Interval), sinks...) })
	}

	if *mdnsName != "" {
		shutdown, err := advertise(*mdnsName, cfg.Listen)
		if err != nil {
			log.Printf("mdns: %v", err)
		} else {
			defer shutdown()
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Print("shutdown complete")
	return nil
}

func openSinks(ctx context.Context, cfg config.SinksConfig) ([]sink.Sink, error) {
	var sinks []sink.Sink
	if c := cfg.Influx; c.URL != "" {
		log.Printf("writing status to influx at %s", c.URL)
		sinks = append(sinks, sink.NewInflux(c.URL, c.Token, c.Org, c.Bucket, c.Measurement, map[string]string{"source": "acusim"}))
	}
	if c := cfg.Redis; c.Addr != "" {
		log.Printf("connecting to redis at %s", c.Addr)
		r, err := sink.NewRedis(ctx, c.Addr, c.DB, c.Prefix, c.Channel)
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, r)
	}
	return sinks, nil
}

func advertise(instance string, listen config.ListenConfig) (func(), error) {
	port, err := portOf(listen.Command)
	if err != nil {
		return nil, err
	}
	statusPort, err := portOf(listen.Status)
	if err != nil {
		statusPort = 0
	}
	log.Printf("advertising %q as %s on port %d", instance, mdns.Service, port)
	return mdns.Advertise(instance, port, statusPort)
}

func portOf(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}
