package memory_test

import (
	"testing"

	"github.com/metaform/metaform-management/pkg/adapters/memory"
	"github.com/metaform/metaform-management/pkg/ports"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunSocketStoreContract(t, store)
}
