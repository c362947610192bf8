package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

// eventColumns is the column list used for SELECT statements on the events table.
const eventColumns = `id, pubkey, kind, created_at, tags, content, sig`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// querySaveEvent inserts ev and its tag index rows. It reports false when
// the id was already stored.
func querySaveEvent(ctx context.Context, db executor, ev *model.Event) (bool, error) {
	tags, err := tagsJSON(ev.Tags)
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO events (id, pubkey, kind, created_at, tags, content, sig)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.Author, ev.Kind, ev.CreatedAt, tags, ev.Content, ev.Sig,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO event_tags (event_id, name, value)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			ev.ID, tag[0], tag[1],
		); err != nil {
			return false, fmt.Errorf("index tag %s: %w", tag[0], err)
		}
	}
	return true, nil
}

func queryGetEvent(ctx context.Context, db executor, id string) (*model.Event, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	return scanEvent(row)
}

// queryEvents translates filter into SQL. A nil field adds no constraint and
// an empty list matches nothing, which ANY('{}') gives for free.
func queryEvents(ctx context.Context, db executor, filter model.Filter) ([]*model.Event, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.IDs != nil {
		whereClauses = append(whereClauses, "id = ANY("+nextArg()+")")
		args = append(args, pq.Array(filter.IDs))
	}

	if filter.Authors != nil {
		whereClauses = append(whereClauses, "pubkey = ANY("+nextArg()+")")
		args = append(args, pq.Array(filter.Authors))
	}

	if filter.Kinds != nil {
		kinds := make([]int64, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = int64(k)
		}
		whereClauses = append(whereClauses, "kind = ANY("+nextArg()+")")
		args = append(args, pq.Array(kinds))
	}

	names := make([]string, 0, len(filter.Tags))
	for name, values := range filter.Tags {
		if values != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		np, vp := nextArg(), nextArg()
		whereClauses = append(whereClauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM event_tags t WHERE t.event_id = events.id AND t.name = %s AND t.value = ANY(%s))", np, vp))
		args = append(args, name, pq.Array(filter.Tags[name]))
	}

	if filter.Since != nil {
		whereClauses = append(whereClauses, "created_at >= "+nextArg())
		args = append(args, *filter.Since)
	}

	if filter.Until != nil {
		whereClauses = append(whereClauses, "created_at <= "+nextArg())
		args = append(args, *filter.Until)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	dataQuery := "SELECT " + eventColumns + " FROM events" + whereSQL + " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		dataQuery += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func queryGetValue(ctx context.Context, db executor, key string) (json.RawMessage, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(value), nil
}

func queryPutValue(ctx context.Context, db executor, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("value for %s is not valid JSON", key)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO kv (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = NOW()`,
		key, []byte(value),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
