package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wpmeta/wpmeta/cfg"
)

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are inline
const mysqlRevisionsDDL = "CREATE TABLE IF NOT EXISTS `%[1]s` (" + `
	revision_id BIGINT UNSIGNED NOT NULL,
	post_id BIGINT UNSIGNED NOT NULL,
	meta_key VARCHAR(255) NOT NULL,
	old_value LONGTEXT NOT NULL,
	new_value LONGTEXT NULL,
	actor_id BIGINT UNSIGNED NOT NULL DEFAULT 0,
	actor_name VARCHAR(255) NOT NULL DEFAULT '',
	batch_id VARCHAR(64) NOT NULL DEFAULT '',
	created_at DATETIME(6) NOT NULL,
	PRIMARY KEY (revision_id),
	KEY post_meta_created (post_id, meta_key(191), created_at),
	KEY batch_id (batch_id),
	KEY created_at (created_at)
) DEFAULT CHARSET=utf8mb4`

const mysqlLogsDDL = "CREATE TABLE IF NOT EXISTS `%[1]s` (" + `
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	level VARCHAR(20) NOT NULL,
	action VARCHAR(64) NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	context LONGTEXT NOT NULL,
	user_id BIGINT UNSIGNED NOT NULL DEFAULT 0,
	ip VARCHAR(45) NOT NULL DEFAULT '',
	created_at DATETIME(6) NOT NULL,
	PRIMARY KEY (id),
	KEY created_at (created_at),
	KEY level (level)
) DEFAULT CHARSET=utf8mb4`

var sqliteDDL = []string{
	"CREATE TABLE IF NOT EXISTS `%[1]s` (" + `
	revision_id INTEGER NOT NULL PRIMARY KEY,
	post_id INTEGER NOT NULL,
	meta_key TEXT NOT NULL,
	old_value TEXT NOT NULL,
	new_value TEXT NULL,
	actor_id INTEGER NOT NULL DEFAULT 0,
	actor_name TEXT NOT NULL DEFAULT '',
	batch_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
)`,
	"CREATE INDEX IF NOT EXISTS `%[1]s_post_meta_created` ON `%[1]s` (post_id, meta_key, created_at)",
	"CREATE INDEX IF NOT EXISTS `%[1]s_batch_id` ON `%[1]s` (batch_id)",
	"CREATE INDEX IF NOT EXISTS `%[1]s_created_at` ON `%[1]s` (created_at)",
	"CREATE TABLE IF NOT EXISTS `%[2]s` (" + `
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	level TEXT NOT NULL,
	action TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '{}',
	user_id INTEGER NOT NULL DEFAULT 0,
	ip TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
)`,
	"CREATE INDEX IF NOT EXISTS `%[2]s_created_at` ON `%[2]s` (created_at)",
	"CREATE INDEX IF NOT EXISTS `%[2]s_level` ON `%[2]s` (level)",
}

// EnsureSchema creates the revision and log tables if they do not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	revisions := s.Table(TableRevisions)
	logs := s.Table(TableLogs)

	var stmts []string
	if s.driver == cfg.DriverSQLite {
		for _, ddl := range sqliteDDL {
			stmts = append(stmts, fmt.Sprintf(ddl, revisions, logs))
		}
	} else {
		stmts = []string{
			fmt.Sprintf(mysqlRevisionsDDL, revisions),
			fmt.Sprintf(mysqlLogsDDL, logs),
		}
	}

	for _, stmt := range stmts {
		if _, err := s.sqlDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	log.Debug().Str("revisions", revisions).Str("logs", logs).Msg("Schema ensured")
	return nil
}
