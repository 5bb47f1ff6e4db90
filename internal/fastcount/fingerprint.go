package fastcount

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/tallycache/tally/pkg/logger"
)

// FallbackPrefix tags fingerprints produced from a query's debug form when
// statement compilation failed, so degraded fingerprinting shows up in the
// durable table and in logs.
const FallbackPrefix = "fallback:"

// Fingerprinter derives the stable cache identity of a query. The entity key
// is folded into the hashed material so identical predicates over different
// entities never collide.
type Fingerprinter struct {
	entityKey string
	log       *zap.Logger
}

// NewFingerprinter builds a Fingerprinter for one entity.
func NewFingerprinter(entityKey string) Fingerprinter {
	return Fingerprinter{
		entityKey: entityKey,
		log:       logger.WithModule("fastcount"),
	}
}

// Fingerprint returns the hex digest identifying the query. The digest is a
// 128-bit content hash of the compiled statement and its ordered bind
// arguments; the same logical query always hashes identically across
// processes.
func (f Fingerprinter) Fingerprint(ctx context.Context, q Query) string {
	sqlText, args, err := q.SQL(ctx)
	if err != nil {
		f.log.Warn("query compilation failed; using fallback fingerprint",
			zap.String("entity", f.entityKey),
			zap.String("query", q.Debug()),
			zap.Error(err),
		)
		sum := md5.Sum([]byte(f.entityKey + ":" + q.Debug()))
		return FallbackPrefix + hex.EncodeToString(sum[:])
	}

	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%v", f.entityKey, sqlText, args)))
	return hex.EncodeToString(sum[:])
}
