package memory_test

import (
	"testing"

	"github.com/gristlabs/docstore/pkg/objectstore"
	"github.com/gristlabs/docstore/pkg/objectstore/memory"
	objectstoretesting "github.com/gristlabs/docstore/pkg/objectstore/testing"
)

func TestMemoryStore(t *testing.T) {
	suite := &objectstoretesting.StoreSuite{
		NewStore: func(t *testing.T) objectstore.RawStore {
			return memory.New()
		},
	}
	suite.Run(t)
}
