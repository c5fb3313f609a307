package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5, cfg.Room.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Room.GracePeriod)
	assert.Equal(t, 10, cfg.Room.CodeAttempts)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Persist.RetryInterval)
	assert.Equal(t, 24*time.Hour, cfg.Janitor.MaxIdle)
	assert.Equal(t, "scribe.rooms", cfg.NATS.SubjectPrefix)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("SCRIBE_ROOM_CAPACITY", "8")
	t.Setenv("SCRIBE_ROOM_GRACE_PERIOD", "45s")
	t.Setenv("SCRIBE_STORE_DRIVER", "sql")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Room.Capacity)
	assert.Equal(t, 45*time.Second, cfg.Room.GracePeriod)
	assert.Equal(t, "sql", cfg.Store.Driver)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("SCRIBE_STORE_DRIVER", "etcd")

	_, err := Load()
	assert.ErrorContains(t, err, "store.driver")
}

func TestValidate(t *testing.T) {
	valid := Config{
		Room:  RoomConfig{Capacity: 5, GracePeriod: time.Second},
		Store: StoreConfig{Driver: "redis"},
	}
	assert.NoError(t, valid.Validate())

	noSeats := valid
	noSeats.Room.Capacity = 0
	assert.Error(t, noSeats.Validate())

	noGrace := valid
	noGrace.Room.GracePeriod = 0
	assert.Error(t, noGrace.Validate())
}
