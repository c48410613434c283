package memory

import (
	"testing"

	"github.com/lanonasis/auth-gateway/internal/store"
	"github.com/lanonasis/auth-gateway/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunTests(t, func() store.Store {
		return New()
	})
}
