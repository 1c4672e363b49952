package config_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gristlabs/docstore/pkg/config"
)

func TestCreateRawStore_Memory(t *testing.T) {
	store, err := config.CreateRawStore(context.Background(), config.ObjectStoreConfig{Type: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestCreateRawStore_Fs(t *testing.T) {
	store, err := config.CreateRawStore(context.Background(), config.ObjectStoreConfig{
		Type: "fs",
		Fs:   config.FsConfig{Root: t.TempDir()},
	})
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestCreateRawStore_UnknownType(t *testing.T) {
	_, err := config.CreateRawStore(context.Background(), config.ObjectStoreConfig{Type: "nope"})
	assert.Error(t, err)
}

func TestCreateDirectory_Memory(t *testing.T) {
	dir, err := config.CreateDirectory(context.Background(), config.DirectoryConfig{Type: "memory"})
	require.NoError(t, err)
	require.NotNil(t, dir)
	defer dir.Close()
}

func TestCreateDirectory_Badger(t *testing.T) {
	dir, err := config.CreateDirectory(context.Background(), config.DirectoryConfig{
		Type:   "badger",
		Badger: config.BadgerDirectoryConfig{DBPath: t.TempDir()},
	})
	require.NoError(t, err)
	require.NotNil(t, dir)
	defer dir.Close()
}

func TestCreateDirectory_UnknownType(t *testing.T) {
	_, err := config.CreateDirectory(context.Background(), config.DirectoryConfig{Type: "nope"})
	assert.Error(t, err)
}
