package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"scraperd/internal/collector"
	"scraperd/internal/driver"
	shttp "scraperd/internal/http"
	"scraperd/internal/http/auth"
	"scraperd/internal/model"
	"scraperd/internal/orchestrator"
	"scraperd/internal/schedule"
)

type Options struct {
	DbHost       string            `short:"u" long:"db-url" description:"Database host url" required:"true"`
	DbPort       uint              `short:"p" long:"db-port" description:"Database port" default:"5432"`
	DbUser       string            `short:"l" long:"db-login" description:"Database user login" required:"true"`
	DbName       string            `short:"n" long:"db-name" description:"Database name" required:"true"`
	Listen       string            `short:"a" long:"listen" description:"Server listen address" default:"localhost:8080"`
	Timezone     string            `short:"z" long:"timezone" description:"Reference time zone for the scrape calendar" default:"America/New_York"`
	RunTimeout   time.Duration     `short:"t" long:"run-timeout" description:"Maximum duration of a single scrape run" default:"10m"`
	PollInterval time.Duration     `short:"i" long:"poll-interval" description:"Due-job poll interval, 0 disables the internal trigger" default:"1m"`
	Collectors   map[string]string `short:"c" long:"collector" description:"Collector endpoint per kind, e.g. news:http://scraper/news"`
}

const serverShutdownTimeout = 30 * time.Second

func main() {
	// Secrets may come from a .env file in development; a missing file is
	// not an error.
	_ = godotenv.Load()

	opts := Options{}
	_, err := flags.Parse(&opts)
	if err != nil {
		log.Fatal(fmt.Errorf("could not parse command line args: %w", err))
	}
	datasourceName := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		opts.DbHost,
		opts.DbPort,
		opts.DbUser,
		os.Getenv("POSTGRES_PASSWORD"),
		opts.DbName,
	)
	background := context.Background()
	store, err := model.NewSQLStore(background, "postgres", datasourceName)
	if err != nil {
		log.Fatal(fmt.Errorf("could not create scraper storage: %w", err))
	}

	sched, err := schedule.NewComputer(opts.Timezone)
	if err != nil {
		log.Fatal(fmt.Errorf("could not create schedule computer: %w", err))
	}

	registry := collector.NewRegistry()
	for rawKind, endpoint := range opts.Collectors {
		kind, err := model.ParseKind(rawKind)
		if err != nil {
			log.Fatal(fmt.Errorf("could not register collector: %w", err))
		}
		registry.Register(kind, collector.NewHTTPCollector(endpoint, nil))
	}

	orch := orchestrator.New(store, store, sched, registry, orchestrator.WithRunTimeout(opts.RunTimeout))

	authorizer := auth.StaticTokens{
		SessionToken: os.Getenv("OPERATOR_SESSION_TOKEN"),
		CSRFToken:    os.Getenv("OPERATOR_CSRF_TOKEN"),
	}
	server, err := shttp.NewScraperServer(orch, authorizer, opts.Listen)
	if err != nil {
		log.Fatal(fmt.Errorf("could not create scraper server: %w", err))
	}

	cancelCtx, cancel := context.WithCancel(background)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	wg := sync.WaitGroup{}
	if opts.PollInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			driver.New(orch, opts.PollInterval).Start(cancelCtx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(); err != nil {
			log.Error(fmt.Errorf("listen and serve error: %w", err))
		}
	}()
	<-sigs
	cancel()
	timeoutCtx, timeoutCancel := context.WithTimeout(background, serverShutdownTimeout)
	defer timeoutCancel()
	if err = server.Shutdown(timeoutCtx); err != nil {
		log.Error(fmt.Errorf("failed to shutdown server: %w", err))
	}
	wg.Wait()
}
