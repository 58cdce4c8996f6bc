package storage

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		provider, err := NewProvider(ProviderConfig{Type: MemoryProviderType})
		require.NoError(t, err)
		require.NotNil(t, provider)
		assert.IsType(t, &MemoryProvider{}, provider)
		require.NoError(t, provider.Initialize())
		require.NoError(t, provider.Close())
	})

	t.Run("Redis", func(t *testing.T) {
		mr := miniredis.RunT(t)

		provider, err := NewProvider(ProviderConfig{
			Type:  RedisProviderType,
			Redis: &RedisProviderConfig{Address: mr.Addr()},
		})
		require.NoError(t, err)
		assert.IsType(t, &RedisProvider{}, provider)
		require.NoError(t, provider.Close())
	})

	t.Run("RedisWithoutConfig", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Type: RedisProviderType})
		require.Error(t, err)
	})

	t.Run("PostgreSQLWithoutConfig", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Type: PostgreSQLProviderType})
		require.Error(t, err)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Type: "cassandra"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown provider type")
	})
}
