package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/config"
	"github.com/user/conserje/internal/database"
	"github.com/user/conserje/internal/delivery"
	"github.com/user/conserje/internal/gateway"
	"github.com/user/conserje/internal/intake"
	"github.com/user/conserje/internal/nlu"
	"github.com/user/conserje/internal/resolve"
	"github.com/user/conserje/internal/state"
	"github.com/user/conserje/internal/types"
	"github.com/user/conserje/pkg/llm"
	"github.com/user/conserje/pkg/llm/gemini"
	"github.com/user/conserje/pkg/llm/openai"
)

// app holds the wired service. Channels (Telegram, HTTP, console) attach to
// its gateway and register their destination handlers on its registry.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	areas    *catalog.Areas
	places   *catalog.Loader
	sessions types.SessionStore
	events   types.EventLog
	search   *state.IndexedIncidentStore
	registry *delivery.Registry
	engine   *intake.Engine
	gateway  *gateway.Gateway

	closers []func()
}

// Close releases database handles in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildAreas(cfg *config.Config) (*catalog.Areas, error) {
	list := make([]catalog.Area, 0, len(cfg.Areas))
	for _, ac := range cfg.Areas {
		list = append(list, catalog.Area{
			Code:         ac.Code,
			Name:         ac.Name,
			Aliases:      ac.Aliases,
			Keywords:     ac.Keywords,
			FolioPrefix:  ac.FolioPrefix,
			Destinations: ac.Destinations,
		})
	}
	return catalog.NewAreas(list)
}

func loadPlaces(cfg *config.Config, logger *zap.Logger) (*catalog.Loader, error) {
	loader := catalog.NewLoader(logger)
	if cfg.Catalog.PlacesPath == "" {
		logger.Warn("no place catalog configured, places are taken verbatim")
		return loader, nil
	}
	if _, err := loader.Load(cfg.Catalog.PlacesPath); err != nil {
		return nil, err
	}
	return loader, nil
}

func (a *app) openSessions(ctx context.Context) error {
	switch a.cfg.Storage.Sessions {
	case config.BackendFile:
		a.sessions = state.NewSessionStore(a.cfg.DataDir)
	case config.BackendRedis:
		client, err := database.NewRedis(ctx, a.cfg.Redis)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { client.Close() })
		// Stored sessions outlive the idle TTL so the sweeper can still see them.
		a.sessions = state.NewRedisSessionStore(client, a.cfg.Redis.Prefix, 2*a.cfg.Intake.SessionIdleTTL)
	default:
		a.sessions = state.NewMemorySessionStore()
	}
	return nil
}

func (a *app) openIncidents(ctx context.Context) (types.IncidentStore, error) {
	var incidents types.IncidentStore
	switch a.cfg.Storage.Incidents {
	case config.BackendPostgres:
		db, err := database.NewPostgres(ctx, a.cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		pg := state.NewPostgresIncidentStore(db, a.areas.Folio)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		incidents, a.events = pg, pg
	default:
		events := state.NewEventStore(a.cfg.DataDir)
		incidents, a.events = state.NewIncidentStore(a.cfg.DataDir, events, a.areas.Folio), events
	}

	if a.cfg.Storage.SearchIndex {
		es, err := database.NewElasticsearch(ctx, a.cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
		a.search = state.NewIndexedIncidentStore(incidents, es, a.cfg.Elasticsearch.Index, a.logger)
		incidents = a.search
	}
	return incidents, nil
}

// newProvider builds the LLM provider named by kind. It returns nil when the
// provider is disabled or has no credentials. Gemini always uses
// gemini.model; model applies to OpenAI-compatible endpoints.
func newProvider(ctx context.Context, cfg *config.Config, kind, model string) (llm.Provider, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "openai":
		if cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == openai.DefaultBaseURL {
			return nil, nil
		}
		return openai.New(&llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, nil
		}
		client, err := gemini.New(ctx, &llm.Config{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", kind)
	}
}

func usesPrefix(areas *catalog.Areas, prefix string) bool {
	for _, area := range areas.List() {
		for _, d := range area.Destinations {
			if strings.HasPrefix(d, prefix) {
				return true
			}
		}
	}
	return false
}

// registerAWS wires sns: and email: destinations when any area uses them.
func (a *app) registerAWS(ctx context.Context) error {
	useSNS := usesPrefix(a.areas, delivery.PrefixSNS)
	useSES := usesPrefix(a.areas, delivery.PrefixEmail)
	if !useSNS && !useSES {
		return nil
	}
	snsClient, sesClient, err := delivery.NewAWSClients(ctx, a.cfg.AWS.Region)
	if err != nil {
		return err
	}
	if useSNS {
		a.registry.Register(delivery.PrefixSNS, delivery.SNSHandler(snsClient))
	}
	if useSES {
		if a.cfg.AWS.SESFrom == "" {
			return fmt.Errorf("email destinations require aws.ses_from")
		}
		a.registry.Register(delivery.PrefixEmail, delivery.SESHandler(sesClient, a.cfg.AWS.SESFrom))
	}
	return nil
}

// buildApp wires stores, collaborators, delivery and the engine behind a
// gateway. The gateway is not started.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	if a.areas, err = buildAreas(cfg); err != nil {
		return nil, fmt.Errorf("build areas: %w", err)
	}
	if a.places, err = loadPlaces(cfg, logger); err != nil {
		return nil, fmt.Errorf("load place catalog: %w", err)
	}
	if err := a.openSessions(ctx); err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	incidents, err := a.openIncidents(ctx)
	if err != nil {
		return nil, fmt.Errorf("open incident store: %w", err)
	}
	media := state.NewMediaStore(cfg.DataDir)

	provider, err := newProvider(ctx, cfg, cfg.LLM.Provider, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}
	visionProvider, err := newProvider(ctx, cfg, cfg.LLM.VisionProvider, cfg.LLM.VisionModel)
	if err != nil {
		return nil, err
	}

	var (
		detector    resolve.AreaDetector = nlu.NewKeywordAreaDetector(a.areas)
		informal    resolve.InformalClassifier
		interpreter intake.Interpreter
		vision      intake.VisionAnalyzer
	)
	if provider != nil {
		detector = nlu.NewLLMAreaDetector(provider, a.areas, logger)
		informal = nlu.NewPlaceClassifier(provider)
		budget := nlu.NewPromptBudget(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
		interpreter = nlu.NewInterpreter(provider, a.areas, budget, logger)
	} else {
		logger.Warn("no llm provider configured, interpretation disabled")
	}
	if visionProvider != nil {
		vision = nlu.NewVision(visionProvider, a.areas)
	}

	a.registry = delivery.NewRegistry()
	a.registry.Register(delivery.PrefixLog, delivery.LogHandler(logger))
	if err := a.registerAWS(ctx); err != nil {
		return nil, fmt.Errorf("aws delivery: %w", err)
	}

	retry := delivery.DefaultRetryPolicy()
	if cfg.Delivery.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Delivery.MaxAttempts
	}
	if cfg.Delivery.BaseDelay > 0 {
		retry.InitialDelay = cfg.Delivery.BaseDelay
	}
	router := delivery.NewRouter(a.areas, a.registry, retry, logger)

	finalizer := intake.NewFinalizer(incidents, media, router, a.areas, nil, logger)
	a.engine = intake.NewEngine(intake.Deps{
		Sessions:    a.sessions,
		Places:      resolve.NewPlaceResolver(a.places, informal, logger),
		Areas:       resolve.NewAreaResolver(a.areas, detector, logger),
		Interpreter: interpreter,
		Vision:      vision,
		Finalizer:   finalizer,
	}, intake.Config{
		PlacePromptCooldown: cfg.Intake.PlacePromptCooldown,
		MediaBatchWindow:    cfg.Intake.MediaBatchWindow,
		MaxPendingMedia:     cfg.Intake.MaxPendingMedia,
		MaxHistory:          cfg.Intake.MaxHistory,
		SessionIdleTTL:      cfg.Intake.SessionIdleTTL,
		UseInformalPlace:    cfg.Intake.UseInformalPlace,
	}, logger)

	a.gateway = gateway.New(int64(cfg.MaxConcurrent), logger)
	a.gateway.Use(a.engine)

	ok = true
	return a, nil
}
