package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-training/login-consent/pkg/core"
	"github.com/go-training/login-consent/pkg/store"

	"github.com/spf13/cobra"
)

// userWriter is the part of the Redis store import-users needs.
type userWriter interface {
	PutUser(ctx context.Context, rec *core.UserRecord) error
}

func newImportUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-users",
		Short: "Copy a user DB file into the Redis credential store",
		Long: `Copy the users of a YAML or JSON user DB file into the Redis credential
store. Without --user-db the built-in users are imported.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			if cfg.Store.Type != store.StoreTypeRedis {
				return errors.New("import-users needs --store=redis")
			}

			records, err := importRecords(cfg.Store.UserDB)
			if err != nil {
				return err
			}

			redisStore, err := store.NewRedisStoreFromOptions(cfg.Store.Redis)
			if err != nil {
				return err
			}
			defer redisStore.Close()

			n, err := importUsers(cmd.Context(), redisStore, records)
			if err != nil {
				return err
			}
			slog.Info("Imported users", "count", n, "addr", cfg.Store.Redis.Addr)
			return nil
		},
	}
	addStoreFlags(cmd)
	return cmd
}

// importRecords returns the users of path, or the built-in users when path is
// empty, checked and ordered by username.
func importRecords(path string) ([]*core.UserRecord, error) {
	records := store.DefaultUsers()
	if path != "" {
		var err error
		if records, err = store.LoadUserDB(path); err != nil {
			return nil, err
		}
	}
	table, err := store.NewMemoryStore(records...)
	if err != nil {
		return nil, err
	}
	return table.Records(), nil
}

// importUsers writes every record to w and returns how many were written.
func importUsers(ctx context.Context, w userWriter, records []*core.UserRecord) (int, error) {
	for i, rec := range records {
		if err := w.PutUser(ctx, rec); err != nil {
			return i, fmt.Errorf("failed to import %s: %w", rec.Username, err)
		}
	}
	return len(records), nil
}
