package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/intake-backend/internal/intake"
	"github.com/angelmondragon/intake-backend/internal/locale"
	"github.com/angelmondragon/intake-backend/internal/wizard"
	"github.com/angelmondragon/intake-backend/pkg/config"
	"github.com/angelmondragon/intake-backend/pkg/intakeclient"
	"github.com/angelmondragon/intake-backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	apiURL := flag.String("api", cfg.APIURL, "intake API base url")
	lang := flag.String("locale", cfg.Locale, "display locale: "+fmt.Sprint(locale.Tags()))
	resume := flag.String("resume", "", "resume code to load on start")
	verbose := flag.Bool("v", false, "log controller events to stderr")
	flag.Parse()

	level := "disabled"
	if *verbose {
		level = "debug"
	}
	logg := logger.New(logger.Options{
		ServiceName: "intake-cli",
		Level:       logger.ParseLevel(level),
		Format:      "console",
		Output:      os.Stderr,
	})

	catalog, err := locale.Load(*lang)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load locale: %v\n", err)
		os.Exit(1)
	}

	client, err := intakeclient.NewClient(*apiURL, intakeclient.WithTimeout(cfg.Timeout))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create api client: %v\n", err)
		os.Exit(1)
	}

	ctrl, err := wizard.New(wizard.Params{
		Sessions:    client,
		Attachments: client,
		Finalizer:   client,
		Lookup:      catalog,
		Logger:      logg,
		Locale:      *lang,
		Policy: intake.Policy{
			RequireParticipantAttachment: cfg.RequireParticipantAttachment,
			RequireStayDates:             cfg.RequireStayDates,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create wizard: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sh := newShell(ctrl, catalog, os.Stdin, os.Stdout)
	if *resume != "" {
		sh.exec(ctx, "resume "+*resume)
	}
	if err := sh.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "intake-cli: %v\n", err)
		os.Exit(1)
	}
}
