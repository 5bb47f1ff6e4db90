package fastcount

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintStableForEqualQueries(t *testing.T) {
	db := openTestDB(t)
	fp := NewFingerprinter("users")

	a := NewTableQuery(db, "users", "active = ?", 1)
	b := NewTableQuery(db, "users", "active = ?", 1)

	fpA := fp.Fingerprint(context.Background(), a)
	fpB := fp.Fingerprint(context.Background(), b)

	require.Equal(t, fpA, fpB)
	require.Len(t, fpA, 32)
	require.False(t, strings.HasPrefix(fpA, FallbackPrefix))
}

func TestFingerprintDistinguishesArguments(t *testing.T) {
	db := openTestDB(t)
	fp := NewFingerprinter("users")

	active := fp.Fingerprint(context.Background(), NewTableQuery(db, "users", "active = ?", 1))
	inactive := fp.Fingerprint(context.Background(), NewTableQuery(db, "users", "active = ?", 0))

	require.NotEqual(t, active, inactive)
}

func TestFingerprintDistinguishesEntities(t *testing.T) {
	db := openTestDB(t)
	q := NewTableQuery(db, "users", "active = ?", 1)

	users := NewFingerprinter("users").Fingerprint(context.Background(), q)
	accounts := NewFingerprinter("accounts").Fingerprint(context.Background(), q)

	require.NotEqual(t, users, accounts)
}

func TestFingerprintFallbackOnCompileFailure(t *testing.T) {
	fp := NewFingerprinter("users")

	broken := &stubQuery{name: "broken-one", sqlErr: fmt.Errorf("no dialect")}
	other := &stubQuery{name: "broken-two", sqlErr: fmt.Errorf("no dialect")}

	first := fp.Fingerprint(context.Background(), broken)
	second := fp.Fingerprint(context.Background(), other)

	require.True(t, strings.HasPrefix(first, FallbackPrefix))
	require.True(t, strings.HasPrefix(second, FallbackPrefix))
	require.NotEqual(t, first, second)

	// The fallback digest is stable for the same query.
	require.Equal(t, first, fp.Fingerprint(context.Background(), broken))
}
