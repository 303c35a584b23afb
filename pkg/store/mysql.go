// Copyright 2026 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists completed mitigation actions to MySQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/alibaba/opensandbox/procguard/pkg/log"
	"github.com/alibaba/opensandbox/procguard/pkg/mitigate"
	"github.com/alibaba/opensandbox/procguard/pkg/proc"
)

const schema = `CREATE TABLE IF NOT EXISTS mitigation_actions (
	id CHAR(36) NOT NULL PRIMARY KEY,
	host VARCHAR(255) NOT NULL,
	pid INT NOT NULL,
	name VARCHAR(255) NOT NULL,
	owner VARCHAR(255) NOT NULL,
	kind VARCHAR(32) NOT NULL,
	automatic TINYINT(1) NOT NULL,
	trigger_reasons VARCHAR(255) NOT NULL,
	requested_at DATETIME(3) NOT NULL,
	completed_at DATETIME(3) NULL,
	outcome VARCHAR(16) NOT NULL,
	cause VARCHAR(16) NOT NULL,
	detail TEXT NOT NULL,
	old_priority INT NULL,
	new_priority INT NULL,
	managed TINYINT(1) NULL,
	INDEX idx_requested_at (requested_at),
	INDEX idx_pid (pid)
)`

const insertAction = `INSERT INTO mitigation_actions
	(id, host, pid, name, owner, kind, automatic, trigger_reasons, requested_at, completed_at,
	 outcome, cause, detail, old_priority, new_priority, managed)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectRecent = `SELECT id, pid, name, owner, kind, automatic, trigger_reasons, requested_at, completed_at,
	outcome, cause, detail, old_priority, new_priority, managed
	FROM mitigation_actions WHERE host = ? ORDER BY requested_at DESC LIMIT ?`

// ConnectBackoff paces the initial connection attempts.
var ConnectBackoff = wait.Backoff{
	Steps:    5,
	Duration: 200 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
}

// MySQL stores actions in the mitigation_actions table.
type MySQL struct {
	db   *sql.DB
	host string
}

var _ mitigate.Sink = (*MySQL)(nil)

// OpenMySQL connects to dsn, retrying the ping with backoff, and makes sure
// the schema exists.
func OpenMySQL(ctx context.Context, dsn, host string) (*MySQL, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse history dsn: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	attempt := 0
	err = retry.OnError(ConnectBackoff, func(error) bool {
		return ctx.Err() == nil
	}, func() error {
		attempt++
		err := db.PingContext(ctx)
		if err != nil {
			log.Warn("history db ping attempt %d failed: %v", attempt, err)
		}
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect history db: %w", err)
	}

	s := NewMySQL(db, host)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("mitigation history stored in %s/%s", cfg.Addr, cfg.DBName)
	return s, nil
}

// NewMySQL wraps an open database.
func NewMySQL(db *sql.DB, host string) *MySQL {
	return &MySQL{db: db, host: host}
}

func (s *MySQL) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create mitigation_actions: %w", err)
	}
	return nil
}

// SaveAction inserts one completed action.
func (s *MySQL) SaveAction(ctx context.Context, a *mitigate.Action) error {
	var completed sql.NullTime
	if !a.CompletedAt.IsZero() {
		completed = sql.NullTime{Time: a.CompletedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, insertAction,
		a.ID, s.host, a.PID, a.Name, a.Owner, string(a.Kind), a.Automatic, a.Trigger,
		a.RequestedAt, completed, string(a.Outcome), string(a.Cause), a.Detail,
		nullInt(a.OldPriority), nullInt(a.NewPriority), nullBool(a.Managed),
	)
	if err != nil {
		return fmt.Errorf("insert action %s: %w", a.ID, err)
	}
	return nil
}

// RecentActions returns up to limit actions of this host, newest first.
func (s *MySQL) RecentActions(ctx context.Context, limit int) ([]*mitigate.Action, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.db.QueryContext(ctx, selectRecent, s.host, limit)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []*mitigate.Action
	for rows.Next() {
		var (
			a                mitigate.Action
			kind, outcome    string
			cause            string
			completed        sql.NullTime
			oldPrio, newPrio sql.NullInt64
			managed          sql.NullBool
		)
		err := rows.Scan(&a.ID, &a.PID, &a.Name, &a.Owner, &kind, &a.Automatic, &a.Trigger,
			&a.RequestedAt, &completed, &outcome, &cause, &a.Detail, &oldPrio, &newPrio, &managed)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Kind = mitigate.Kind(kind)
		a.Outcome = mitigate.Outcome(outcome)
		a.Cause = proc.Cause(cause)
		if completed.Valid {
			a.CompletedAt = completed.Time
		}
		if oldPrio.Valid {
			v := int(oldPrio.Int64)
			a.OldPriority = &v
		}
		if newPrio.Valid {
			v := int(newPrio.Int64)
			a.NewPriority = &v
		}
		if managed.Valid {
			v := managed.Bool
			a.Managed = &v
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *MySQL) Close() error {
	return s.db.Close()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
