package cart

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"cartsync/internal/cart/facade"
	"cartsync/internal/cart/gateway"
	"cartsync/internal/cart/mutator"
	"cartsync/internal/cart/query"
	"cartsync/internal/cart/reducer"
	"cartsync/internal/domain"
)

type ModuleConfig struct {
	BaseURL         string
	RefetchInterval time.Duration
	Tokens          gateway.TokenSource
}

// NewModule builds the cart engine of one identity: store, gateway, query
// client, mutators and the facade over them.
func NewModule(cfg ModuleConfig, httpClient *http.Client, identity gateway.Identity, logger *zap.Logger) *facade.Facade {
	logger = logger.With(zap.String("identity", identity.Key()))

	store := reducer.NewStore(logger)
	gw := gateway.New(cfg.BaseURL, httpClient, identity, cfg.Tokens, logger)

	queries := query.New(gw.FetchCart, query.Options{
		OnData: func(c *domain.Cart) {
			store.Dispatch(reducer.SetCart{Cart: c})
		},
		RefetchInterval: cfg.RefetchInterval,
	}, logger)

	mutators := mutator.New(store, gw, queries, logger)

	return facade.New(facade.Dependencies{
		Store:    store,
		Mutators: mutators,
		Queries:  queries,
		Logger:   logger,
	})
}
