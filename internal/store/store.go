// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
)

// DefaultDSN is the default cache store location.
const DefaultDSN = "sqlite://cdn_cache.db"

// Open opens the store described by dsn.
// Supported schemes are sqlite://<path>, postgres:// (or postgresql://) and redis:// (or rediss://).
func Open(ctx context.Context, dsn string) (Store, error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDSN, dsn)
	}

	switch scheme {
	case "sqlite":
		if rest == "" {
			return nil, fmt.Errorf("%w: empty sqlite path", ErrUnsupportedDSN)
		}
		// SQLite allows a single writer; serialize access through one connection.
		return newSQLStore(ctx, sqlite.Open(rest), 1)

	case "postgres", "postgresql":
		return newSQLStore(ctx, postgres.Open(dsn), 0)

	case "redis", "rediss":
		return newRedisStore(ctx, dsn)

	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", ErrUnsupportedDSN, scheme)
	}
}
