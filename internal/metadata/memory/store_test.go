package memory_test

import (
	"testing"

	"github.com/vibefs/vibed/internal/metadata"
	"github.com/vibefs/vibed/internal/metadata/memory"
	storetesting "github.com/vibefs/vibed/internal/metadata/testing"
)

func TestStore(t *testing.T) {
	suite := storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.Store {
			return memory.New()
		},
	}
	suite.Run(t)
}
