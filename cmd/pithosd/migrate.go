package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
	"github.com/spf13/cobra"

	"github.com/synnefo-io/core/pkg/log"
)

// migrateCmd backfills the node tree store after a schema addition: any
// version written before Available/MapCheckTimestamp existed decodes with
// Available=false (Go's zero value for bool), which would make every
// pre-upgrade object look perpetually unavailable until an EnsureAvailable
// recheck happens to run. This walks the versions bucket once and marks
// every NORMAL/HISTORY version with a non-empty Hash as available, since by
// definition its blocks were already confirmed present under the old schema
// that had no separate availability flag.
//
// Grounded on the teacher's cmd/warren-migrate (flag-driven, backs up the
// bbolt file before writing, supports --dry-run).
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Backfill the node tree store's version availability field after an upgrade",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backupPath, _ := cmd.Flags().GetString("backup")

		logger := log.WithComponent("pithosd-migrate")

		dbPath := filepath.Join(dataDir, "nodes.db")
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database not found at %s", dbPath)
		}

		if !dryRun {
			if backupPath == "" {
				backupPath = dbPath + ".backup"
			}
			logger.Info().Str("backup", backupPath).Msg("creating backup")
			if err := copyFile(dbPath, backupPath); err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}
		}

		db, err := bolt.Open(dbPath, 0600, nil)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		var inspected, migrated int
		err = db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket([]byte("versions"))
			if bucket == nil {
				logger.Info().Msg("no versions bucket found, nothing to migrate")
				return nil
			}
			return bucket.ForEach(func(k, v []byte) error {
				var raw map[string]interface{}
				if err := json.Unmarshal(v, &raw); err != nil {
					return fmt.Errorf("decode version %x: %w", k, err)
				}
				inspected++

				if _, hasField := raw["Available"]; hasField {
					if avail, _ := raw["Available"].(bool); avail {
						return nil
					}
				}
				hash, _ := raw["Hash"].(string)
				cluster, _ := raw["Cluster"].(float64)
				if hash == "" || cluster == 2 /* ClusterDeleted */ {
					return nil
				}

				migrated++
				if dryRun {
					return nil
				}
				raw["Available"] = true
				out, err := json.Marshal(raw)
				if err != nil {
					return err
				}
				return bucket.Put(k, out)
			})
		})
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		logger.Info().Int("inspected", inspected).Int("migrated", migrated).Bool("dry_run", dryRun).
			Msg("migration complete")
		return nil
	},
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func init() {
	migrateCmd.Flags().String("data-dir", "./data/pithos/nodes", "Directory containing the node tree bbolt store")
	migrateCmd.Flags().Bool("dry-run", false, "Show what would be migrated without making changes")
	migrateCmd.Flags().String("backup", "", "Path to back up the database before migrating (default: <data-dir>/nodes.db.backup)")
}
