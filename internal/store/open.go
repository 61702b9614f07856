package store

import (
	"context"
	"fmt"
)

type Options struct {
	Kind string // memory, mongo, postgres or bolt

	MongoURI    string
	MongoDB     string
	PostgresURL string
	BoltPath    string
}

// Open returns the store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Kind {
	case "", "memory":
		return NewMemory(), nil
	case "mongo":
		return OpenMongo(ctx, opts.MongoURI, opts.MongoDB)
	case "postgres":
		return OpenPostgres(ctx, opts.PostgresURL)
	case "bolt":
		return OpenBolt(opts.BoltPath)
	}
	return nil, fmt.Errorf("unknown store %q", opts.Kind)
}
