package validators

import (
	"context"

	"github.com/canopy-network/validatorx/pkg/db"
	"github.com/canopy-network/validatorx/pkg/db/postgres"
	"go.uber.org/zap"
)

// DB reads validator analytics from the primary PostgreSQL store. Tables are owned by the ingestion
// pipeline; this package never creates or migrates them.
type DB struct {
	postgres.Client
}

var _ db.Store = (*DB)(nil)

// New connects to dbURL with the query service pool settings.
func New(ctx context.Context, logger *zap.Logger, dbURL string) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(zap.String("component", "primary_store")), dbURL,
		postgres.DefaultPoolConfig("query"))
	if err != nil {
		return nil, err
	}
	return &DB{Client: client}, nil
}
