package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vsinha/bomengine/pkg/domain/entities"
	"github.com/vsinha/bomengine/pkg/domain/repositories"
	"github.com/vsinha/bomengine/pkg/infrastructure/logger"
)

// DefaultKey is the hash holding product id -> unit cost
const DefaultKey = "bom:unit_costs"

// UnitCostRepository reads unit costs from a Redis hash. Field values are
// decimal strings; unparseable values are logged and treated as unknown.
type UnitCostRepository struct {
	rdb *goredis.Client
	key string
	log *logger.Logger
}

// Connect creates a client for addr and verifies it with a ping
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewUnitCostRepository creates a repository reading the given hash key
func NewUnitCostRepository(rdb *goredis.Client, key string, log *logger.Logger) *UnitCostRepository {
	if key == "" {
		key = DefaultKey
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &UnitCostRepository{
		rdb: rdb,
		key: key,
		log: log.With("component", "RedisUnitCosts"),
	}
}

var _ repositories.UnitCostRepository = (*UnitCostRepository)(nil)

// GetUnitCosts fetches all requested costs in one HMGET
func (r *UnitCostRepository) GetUnitCosts(ctx context.Context, productIDs []entities.ProductID) (entities.UnitCosts, error) {
	costs := make(entities.UnitCosts, len(productIDs))
	if len(productIDs) == 0 {
		return costs, nil
	}

	fields := make([]string, len(productIDs))
	for i, id := range productIDs {
		fields[i] = string(id)
	}

	values, err := r.rdb.HMGet(ctx, r.key, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read unit costs from %s: %w", r.key, err)
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		cost, err := decimal.NewFromString(raw)
		if err != nil {
			r.log.Warn("ignoring malformed unit cost", "product_id", fields[i], "value", raw)
			continue
		}
		costs[productIDs[i]] = cost
	}
	return costs, nil
}

// SetUnitCosts writes costs into the hash
func (r *UnitCostRepository) SetUnitCosts(ctx context.Context, costs entities.UnitCosts) error {
	if len(costs) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(costs))
	for id, cost := range costs {
		values[string(id)] = cost.String()
	}
	if err := r.rdb.HSet(ctx, r.key, values).Err(); err != nil {
		return fmt.Errorf("failed to write unit costs to %s: %w", r.key, err)
	}
	return nil
}
