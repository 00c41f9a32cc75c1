package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/ptgott/one-calendar/feed"
	"github.com/ptgott/one-calendar/server"
	"github.com/ptgott/one-calendar/storage"
	"github.com/ptgott/one-calendar/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	configPath := flag.String(
		"config",
		"./config.yaml",
		"path to a JSON or YAML file containing your configuration",
	)
	level := flag.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)
	importPath := flag.String(
		"import",
		"",
		"path to a YAML or JSON file of events to add to the feed",
	)
	removeID := flag.String(
		"remove",
		"",
		"ID of an event to remove from the feed",
	)
	clearAll := flag.Bool(
		"clear",
		false,
		"remove every event from the feed",
	)
	printFeed := flag.Bool(
		"print",
		false,
		"write the feed to stdout as iCalendar text",
	)
	serve := flag.Bool(
		"serve",
		false,
		"serve the feed over HTTP (the default if no other action is given)",
	)
	flag.Parse()

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	// Interrupts cancel ctx so that the store is always closed on the way
	// out. A second interrupt exits right away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func(c chan os.Signal) {
		<-c
		log.Info().Msg("interrupt: shutting down")
		cancel()
		<-c
		log.Info().Msg("interrupt: exiting")
		os.Exit(1)
	}(sigCh)

	log.Info().
		Str("configPath", *configPath).
		Msg("starting the application")

	f, err := os.Open(*configPath)

	if err != nil {
		log.Error().
			Str("config-path", *configPath).
			Err(err).
			Msg("We can't open the application config file")
		os.Exit(1)
	}

	config, err := userconfig.Parse(f)
	f.Close()

	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem parsing your config")
		os.Exit(1)
	}

	checkedConfig, err := config.CheckAndSetDefaults()
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem validating your config")
		os.Exit(1)
	}

	log.Info().Str("configPath", *configPath).Msg("successfully validated the config")

	oneOff := *importPath != "" || *removeID != "" || *clearAll || *printFeed
	if oneOff {
		err = feed.With(
			ctx,
			checkedConfig.Storage,
			checkedConfig.Feed.Prefix,
			checkedConfig.Feed.Info(),
			func(s *feed.Store) error {
				return runActions(ctx, s, *clearAll, *removeID, *importPath, *printFeed)
			},
			feed.WithLanguage(checkedConfig.Feed.Language),
		)
		if err != nil {
			log.Error().Err(err).Msg("Problem updating the feed")
			os.Exit(1)
		}
	}

	if oneOff && !*serve {
		return
	}

	if err := runServer(ctx, checkedConfig); err != nil {
		log.Error().Err(err).Msg("Problem serving the feed")
		os.Exit(1)
	}
}

// runActions applies the one-off changes requested on the command line, in
// the order: clear, remove, import, print.
func runActions(ctx context.Context, s *feed.Store, clearAll bool, removeID, importPath string, printFeed bool) error {
	if clearAll {
		res, err := s.RemoveAll(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("count", res.Mutations).Msg("removed every event")
	}

	if removeID != "" {
		ok, err := s.Remove(ctx, removeID)
		if err != nil {
			return err
		}
		if !ok {
			log.Warn().Str("id", removeID).Msg("there is no such event to remove")
		} else {
			log.Info().Str("id", removeID).Msg("removed the event")
		}
	}

	if importPath != "" {
		f, err := os.Open(importPath)
		if err != nil {
			return fmt.Errorf("can't open the events file: %v", err)
		}
		events, err := feed.DecodeEvents(f)
		f.Close()
		if err != nil {
			return err
		}
		if err := s.Add(ctx, events...); err != nil {
			return err
		}
		log.Info().Int("count", len(events)).Str("path", importPath).Msg("imported events")
	}

	if printFeed {
		if _, err := s.WriteTo(os.Stdout); err != nil {
			return err
		}
	}

	return nil
}

// runServer serves the feed until ctx is canceled, reclaiming expired records
// in the background.
func runServer(ctx context.Context, conf userconfig.Meta) error {
	kv, err := storage.Open(conf.Storage)
	if err != nil {
		return err
	}

	store, err := feed.New(
		ctx,
		kv,
		conf.Feed.Prefix,
		conf.Feed.Info(),
		feed.WithLanguage(conf.Feed.Language),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("error closing the event store")
		}
	}()

	cleanup, err := storage.ScheduleCleanup(kv, conf.Storage.CleanupInterval)
	if err != nil {
		return err
	}
	// Let a running cleanup finish before the store closes the database
	defer func() {
		<-cleanup.Stop().Done()
	}()

	log.Info().
		Str("listen", conf.Server.Listen).
		Int("events", store.Len()).
		Msg("serving the feed")

	return server.New(store, conf.Server, log.Logger).ListenAndServe(ctx, conf.Server.Listen)
}
