package memory

import (
	"testing"

	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/localstore/storetest"
)

func TestStoreBehaviour(t *testing.T) {
	storetest.Run(t, func(t *testing.T) localstore.Store {
		return New()
	})
}
