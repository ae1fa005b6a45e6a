// Package inventory applies the external catalog feed to the engine.
package inventory

import (
	"context"
	"errors"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-lifecycle/internal/engine"
	kafkax "github.com/ariefcatur/go-order-lifecycle/internal/kafka"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

type Catalog interface {
	UpsertProduct(ctx context.Context, in engine.ProductInput) (orders.Product, error)
	ApplyStockCount(ctx context.Context, productID string, stock int) (orders.Product, *orders.ConsistencyWarning, error)
}

type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Service struct {
	Catalog Catalog
	Dedup   Deduper // optional
	Log     *zap.Logger
}

// HandleCatalogUpdate is installed as the handler of the catalog consumer. Product
// attributes are upserted first, then a stock figure, if present, is applied as a
// physical count. Messages that can never succeed are logged and acknowledged.
func (s *Service) HandleCatalogUpdate(ctx context.Context, m kafkago.Message) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		log.Error("drop undecodable catalog message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventCatalogProductUpdated {
		return nil
	}

	if s.Dedup != nil && env.EventID != "" {
		first, err := s.Dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.CatalogProductPayload](env.Payload)
	if err != nil {
		log.Error("drop catalog event", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if p.ProductID == "" {
		log.Error("drop catalog event without product id", zap.String("event_id", env.EventID))
		return nil
	}

	if err := s.apply(ctx, p); err != nil {
		if orders.KindOf(err) != orders.KindInternal {
			log.Warn("catalog event rejected",
				zap.String("event_id", env.EventID),
				zap.String("product_id", p.ProductID),
				zap.String("kind", orders.KindOf(err)),
				zap.Error(err),
			)
			return nil
		}
		if s.Dedup != nil && env.EventID != "" {
			if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
				err = errors.Join(err, ferr)
			}
		}
		return err
	}
	return nil
}

func (s *Service) apply(ctx context.Context, p orders.CatalogProductPayload) error {
	if p.Price != nil || p.SKU != "" || p.Name != "" {
		if _, err := s.Catalog.UpsertProduct(ctx, engine.ProductInput{
			ID:    p.ProductID,
			SKU:   p.SKU,
			Name:  p.Name,
			Price: p.Price,
		}); err != nil {
			return err
		}
	}
	if p.Stock != nil {
		if _, _, err := s.Catalog.ApplyStockCount(ctx, p.ProductID, *p.Stock); err != nil {
			return err
		}
	}
	return nil
}
