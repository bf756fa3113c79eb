package regime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalEnvironment(t *testing.T) {
	original := GetEnvironment()
	defer SetEnvironment(original)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, err := NewEnvironment(ctx, "test", &Configuration{})
	require.NoError(t, err)
	defer func() { assert.NoError(t, env.Close(ctx)) }()

	SetEnvironment(env)
	assert.Exactly(t, env, GetEnvironment())
}

func TestEnvironment(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("NilConfiguration", func(t *testing.T) {
		env, err := NewEnvironment(ctx, "test", nil)
		assert.Error(t, err)
		assert.Nil(t, env)
	})
	t.Run("InvalidConfiguration", func(t *testing.T) {
		env, err := NewEnvironment(ctx, "test", &Configuration{NumWorkers: -2})
		assert.Error(t, err)
		assert.Nil(t, env)
	})
	t.Run("WithoutDatabase", func(t *testing.T) {
		env, err := NewEnvironment(ctx, "test", &Configuration{NumWorkers: 1})
		require.NoError(t, err)

		assert.False(t, env.HasDB())
		assert.Nil(t, env.GetClient())
		assert.Nil(t, env.GetDB())

		q := env.GetLocalQueue()
		require.NotNil(t, q)
		assert.True(t, q.Info().Started)

		conf := env.GetConf()
		conf.NumWorkers = 100
		assert.Equal(t, 1, env.GetConf().NumWorkers)

		envCtx, envCancel := env.Context()
		defer envCancel()

		closeCtx, closeCancel := context.WithTimeout(ctx, time.Second)
		defer closeCancel()
		require.NoError(t, env.Close(closeCtx))
		assert.Error(t, envCtx.Err())
	})
	t.Run("IdleCloseWithCanceledContext", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			env, err := NewEnvironment(ctx, "test", &Configuration{NumWorkers: 1})
			require.NoError(t, err)

			closeCtx, closeCancel := context.WithCancel(ctx)
			closeCancel()
			require.NoError(t, env.Close(closeCtx))
		}
	})
	t.Run("WithDatabase", func(t *testing.T) {
		env, err := NewEnvironment(ctx, "test", &Configuration{
			MongoDBURI:   "mongodb://localhost:27017",
			DatabaseName: "regime_test",
		})
		require.NoError(t, err)
		defer func() { assert.NoError(t, env.Close(ctx)) }()

		assert.True(t, env.HasDB())
		require.NotNil(t, env.GetDB())
		assert.Equal(t, "regime_test", env.GetDB().Name())
	})
}
