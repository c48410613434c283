package sql

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/lanonasis/auth-gateway/internal/store"
	"github.com/lanonasis/auth-gateway/internal/store/storetest"
)

const testPostgresEnv = "GATEWAY_TEST_POSTGRES_DSN"

// TestConformance runs the shared store.Store conformance suite against a
// real Postgres database, generalizing the teacher's postgres_test.go
// pattern of skipping unless a database is actually reachable.
func TestConformance(t *testing.T) {
	dsn := os.Getenv(testPostgresEnv)
	if dsn == "" {
		t.Skipf("%s not set, skipping Postgres conformance tests", testPostgresEnv)
	}

	storetest.RunTests(t, func() store.Store {
		s, err := Open(dsn, logrus.New())
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return s
	})
}
