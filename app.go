package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/Agent-Before-Ambulance/agent/agents/capability"
	orchestratorx "github.com/tanpawarit/Agent-Before-Ambulance/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	llmx "github.com/tanpawarit/Agent-Before-Ambulance/agent/llm"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
	toolx "github.com/tanpawarit/Agent-Before-Ambulance/agent/tool"
	configx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/config"
	geminix "github.com/tanpawarit/Agent-Before-Ambulance/pkg/gemini"
	metricsx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/metrics"
	nominatimx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/nominatim"
	openrouterx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/openrouter"
	qstashx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/qstash"
	"github.com/tanpawarit/Agent-Before-Ambulance/pkg/retry"
)

const (
	storeMemory   = "memory"
	storeUpstash  = "upstash"
	storePostgres = "postgres"
	storeSQLite   = "sqlite"
)

type AppConfig struct {
	Store         string        `envconfig:"STORE" default:"memory"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" split_words:"true" default:"24h"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" split_words:"true" default:"5m"`
	HistoryWindow int           `envconfig:"HISTORY_WINDOW" split_words:"true" default:"12"`
}

type app struct {
	supervisor *orchestratorx.Supervisor
	metrics    *metricsx.Recorder
	registry   *prometheus.Registry
	closers    []io.Closer
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

func buildApp(ctx context.Context, verifyModel bool) (*app, error) {
	appCfg, err := configx.New[AppConfig]("APP")
	if err != nil {
		return nil, fmt.Errorf("load app config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metricsx.NewRecorder(reg)

	a := &app{metrics: rec, registry: reg}

	store, err := openStore(ctx, *appCfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	gateway, err := buildGateway()
	if err != nil {
		a.Close()
		return nil, err
	}

	llmCfg, err := configx.New[llmx.Config]("LLM")
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load llm config: %w", err)
	}
	providers, err := loadProviders(*llmCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if verifyModel && providers.OpenRouter != nil {
		if err := openrouterx.Verify(ctx, *providers.OpenRouter); err != nil {
			a.Close()
			return nil, err
		}
	}
	retryCfg, err := configx.New[retry.Config]("RETRY")
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load retry config: %w", err)
	}

	models, err := capability.NewRegistry(ctx, capability.Deps{
		LLM:       *llmCfg,
		Providers: providers,
		Retry:     *retryCfg,
		Gateway:   gateway,
		Recorder:  rec,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	sup, err := orchestratorx.New(store, models, orchestratorx.Config{
		HistoryWindow: appCfg.HistoryWindow,
		Metrics:       rec,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.supervisor = sup

	log.Info().
		Str("store", appCfg.Store).
		Str("provider", llmCfg.Provider).
		Msg("assistant ready")
	return a, nil
}

func openStore(ctx context.Context, cfg AppConfig, a *app) (statex.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case storeMemory, "":
		s := statex.NewMemoryStore(statex.WithMemoryTTL(cfg.SessionTTL))
		s.StartSweeper(ctx, cfg.SweepInterval)
		return s, nil
	case storeUpstash:
		c, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		if err != nil {
			return nil, fmt.Errorf("load upstash config: %w", err)
		}
		return statex.NewUpstashRedisStore(*c)
	case storePostgres:
		c, err := configx.New[statex.PostgresConfig]("POSTGRES")
		if err != nil {
			return nil, fmt.Errorf("load postgres config: %w", err)
		}
		s, err := statex.NewPostgresStore(*c)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		if err := s.CreateSchema(ctx); err != nil {
			return nil, err
		}
		if c.TTL > 0 {
			statex.StartExpirySweeper(ctx, s, cfg.SweepInterval)
		}
		return s, nil
	case storeSQLite:
		c, err := configx.New[statex.SQLiteConfig]("SQLITE")
		if err != nil {
			return nil, fmt.Errorf("load sqlite config: %w", err)
		}
		s, err := statex.NewSQLiteStore(ctx, *c)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		if c.TTL > 0 {
			statex.StartExpirySweeper(ctx, s, cfg.SweepInterval)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown store %q", contractx.ErrValidation, cfg.Store)
	}
}

func buildGateway() (*toolx.Gateway, error) {
	nomCfg, err := configx.New[nominatimx.Config]("NOMINATIM")
	if err != nil {
		return nil, fmt.Errorf("load nominatim config: %w", err)
	}
	nom, err := nominatimx.New(*nomCfg)
	if err != nil {
		return nil, err
	}

	var dispatch contractx.DispatchService = toolx.NewMockDispatchService()
	qCfg, err := configx.New[qstashx.Config]("QSTASH")
	if err != nil {
		return nil, fmt.Errorf("load qstash config: %w", err)
	}
	if qCfg.Enabled() {
		client, err := qstashx.NewClient(*qCfg)
		if err != nil {
			return nil, err
		}
		dispatch = toolx.NewNotifyingDispatchService(dispatch, client)
	}

	return toolx.NewGateway(toolx.NewNominatimGeocoder(nom), dispatch), nil
}

// loadProviders only loads the provider that is selected, so the other one's
// required variables do not have to be set.
func loadProviders(cfg llmx.Config) (llmx.Providers, error) {
	var p llmx.Providers
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case llmx.ProviderGemini:
		c, err := configx.New[geminix.Config]("GEMINI")
		if err != nil {
			return p, fmt.Errorf("load gemini config: %w", err)
		}
		p.Gemini = c
	case llmx.ProviderOpenRouter:
		c, err := configx.New[openrouterx.Config]("OPENROUTER")
		if err != nil {
			return p, fmt.Errorf("load openrouter config: %w", err)
		}
		p.OpenRouter = c
	default:
		return p, errors.New("llm provider must be gemini or openrouter")
	}
	return p, nil
}
