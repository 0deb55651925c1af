package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestGlobalRepositoriesAreShared(t *testing.T) {
	InitializeFactory(&gorm.DB{})

	repos := GetGlobalRepositories()
	require.NotNil(t, repos)
	assert.Same(t, repos, GetGlobalRepositories())
	assert.Same(t, repos, GetGlobalFactory().GetRepositories())
	assert.NotNil(t, repos.User)
	assert.NotNil(t, repos.EmailLog)
	assert.NotNil(t, repos.WebhookEvent)
}
