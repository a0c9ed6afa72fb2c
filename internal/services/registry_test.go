package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/extractd/internal/hooks"
	"github.com/fyrsmithlabs/extractd/internal/store"
)

func TestNewRegistry(t *testing.T) {
	var _ Registry = (*registry)(nil)
}

func TestRegistryAccessors(t *testing.T) {
	reg := NewRegistry(Options{})

	assert.Nil(t, reg.Orchestrator())
	assert.Nil(t, reg.Files())
	assert.Nil(t, reg.Molds())
	assert.Nil(t, reg.Questions())
	assert.Nil(t, reg.Versions())
	assert.Nil(t, reg.PostPipe())
	assert.Nil(t, reg.Migrator())
	assert.Nil(t, reg.Hooks())
	assert.Nil(t, reg.Search())
	assert.Nil(t, reg.FileStore())
	assert.Nil(t, reg.MoldStore())
	assert.NoError(t, reg.Close())
}

func TestRegistryWithServices(t *testing.T) {
	hookManager := hooks.NewHookManager()
	files := store.NewFileRepo(nil)
	molds := store.NewMoldRepo(nil)

	reg := NewRegistry(Options{
		Hooks:     hookManager,
		FileStore: files,
		MoldStore: molds,
	})

	assert.Same(t, hookManager, reg.Hooks())
	assert.Same(t, files, reg.FileStore())
	assert.Same(t, molds, reg.MoldStore())
}

func TestRegistryClose(t *testing.T) {
	var order []string
	closer := func(name string, err error) func() error {
		return func() error {
			order = append(order, name)
			return err
		}
	}
	errBus := errors.New("bus")
	errDB := errors.New("db")

	reg := NewRegistry(Options{Closers: []func() error{
		closer("db", errDB),
		closer("lock", nil),
		closer("bus", errBus),
	}})

	err := reg.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, errBus)
	assert.ErrorIs(t, err, errDB)
	assert.Equal(t, []string{"bus", "lock", "db"}, order)

	require.NoError(t, reg.Close(), "second close is a no-op")
	assert.Len(t, order, 3)
}
