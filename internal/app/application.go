package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	identitysvc "github.com/wowgifts/giftlink/internal/app/services/identity"
	"github.com/wowgifts/giftlink/internal/app/services/lifecycle"
	mailersvc "github.com/wowgifts/giftlink/internal/app/services/mailer"
	settlementsvc "github.com/wowgifts/giftlink/internal/app/services/settlement"
	"github.com/wowgifts/giftlink/internal/app/storage"
	"github.com/wowgifts/giftlink/internal/app/storage/memory"
	"github.com/wowgifts/giftlink/internal/app/system"
	"github.com/wowgifts/giftlink/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Gifts       storage.GiftStore
	Settlements storage.SettlementStore
	Sessions    storage.VerificationSessionStore
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Lifecycle *lifecycle.Service
	Identity  *identitysvc.Service
}

// New builds a fully initialised application with the provided stores.
// Integration endpoints are read from the environment: SETTLEMENT_MODE,
// SETTLEMENT_RELAY_URL, CHAIN_RPC_URL, IDENTITY_PROVIDER_URL, MAIL_RELAY_URL
// and PUBLIC_BASE_URL.
func New(stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Gifts == nil {
		stores.Gifts = mem
	}
	if stores.Settlements == nil {
		stores.Settlements = mem
	}
	if stores.Sessions == nil {
		stores.Sessions = mem
	}

	manager := system.NewManager()
	httpClient := &http.Client{Timeout: 30 * time.Second}

	executor, err := buildExecutor(httpClient, log)
	if err != nil {
		return nil, err
	}

	var verifier *identitysvc.Service
	if endpoint := strings.TrimSpace(os.Getenv("IDENTITY_PROVIDER_URL")); endpoint != "" {
		provider, err := identitysvc.NewHTTPProvider(httpClient, endpoint, log)
		if err != nil {
			return nil, fmt.Errorf("configure identity provider: %w", err)
		}
		verifier = identitysvc.New(provider, log)
	} else {
		log.Warn("IDENTITY_PROVIDER_URL not set; recipient verification disabled")
	}

	var mail mailersvc.Mailer
	if endpoint := strings.TrimSpace(os.Getenv("MAIL_RELAY_URL")); endpoint != "" {
		m, err := mailersvc.NewHTTPMailer(httpClient, endpoint, os.Getenv("MAIL_RELAY_KEY"), log)
		if err != nil {
			log.WithError(err).Warn("configure mail relay")
		} else {
			mail = m
		}
	} else {
		log.Warn("MAIL_RELAY_URL not set; email delivery disabled")
	}

	engine, err := lifecycle.New(lifecycle.Deps{
		Gifts:       stores.Gifts,
		Settlements: stores.Settlements,
		Sessions:    stores.Sessions,
		Executor:    executor,
		Identity:    verifier,
		Mail:        mail,
		BaseURL:     strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")),
		Log:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("build lifecycle engine: %w", err)
	}

	reconciler := lifecycle.NewReconciler(stores.Gifts, stores.Settlements, 30*time.Second, log)
	for _, svc := range []system.Service{system.NoopService{ServiceName: "lifecycle"}, reconciler} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		Lifecycle: engine,
		Identity:  verifier,
	}, nil
}

// buildExecutor selects the settlement backend. "relay" posts to the
// custodial relay, "chain" signs ERC-20 transfers directly; anything else
// falls back to the mock with a loud warning.
func buildExecutor(httpClient *http.Client, log *logger.Logger) (settlementsvc.Executor, error) {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("SETTLEMENT_MODE")))
	switch mode {
	case "relay":
		exec, err := settlementsvc.NewRelayExecutor(httpClient, os.Getenv("SETTLEMENT_RELAY_URL"), os.Getenv("SETTLEMENT_RELAY_KEY"), log)
		if err != nil {
			return nil, fmt.Errorf("configure relay executor: %w", err)
		}
		return exec, nil
	case "chain":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		exec, err := settlementsvc.NewChainExecutor(ctx, os.Getenv("CHAIN_RPC_URL"), os.Getenv("CHAIN_RELAYER_KEY"), log)
		if err != nil {
			return nil, fmt.Errorf("configure chain executor: %w", err)
		}
		return exec, nil
	case "", "mock", "disabled", "off":
		log.Warn("SETTLEMENT_MODE not set to relay or chain; using mock settlement executor")
		return settlementsvc.NewMockExecutor(log), nil
	default:
		return nil, fmt.Errorf("unknown SETTLEMENT_MODE %q", mode)
	}
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
