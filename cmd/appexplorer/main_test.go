package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/appexplorer/internal/config"
)

func TestOriginHosts(t *testing.T) {
	t.Parallel()

	got := originHosts([]string{"https://miro.com", "http://localhost:3000/", "*.miro.com", "*"})
	assert.Equal(t, []string{"miro.com", "localhost:3000", "*.miro.com", "*"}, got)
}

func TestOpenKV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{name: "memory", driver: config.DriverMemory},
		{name: "sqlite", driver: config.DriverSQLite},
		{name: "unknown", driver: "etcd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &config.Config{
				Workspace: config.WorkspaceConfig{Name: "test"},
				Store:     config.StoreConfig{Driver: tt.driver, SQLitePath: filepath.Join(t.TempDir(), "nested", "cards.db")},
			}

			kv, client, closers, err := openKV(context.Background(), cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Nil(t, client)
			t.Cleanup(func() {
				for _, c := range closers {
					_ = c.Close()
				}
			})

			ctx := context.Background()
			require.NoError(t, kv.Put(ctx, "boardIds", []byte(`["b1"]`)))
			raw, err := kv.Get(ctx, "boardIds")
			require.NoError(t, err)
			assert.JSONEq(t, `["b1"]`, string(raw))
		})
	}
}
