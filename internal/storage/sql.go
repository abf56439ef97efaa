package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	logx "nftwatch/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlStore serves both sqlite and postgres; only placeholders and the
// migration file differ.
type sqlStore struct {
	db     *sql.DB
	log    logx.Logger
	qb     sq.StatementBuilderType
	driver string
}

func newSQLStore(db *sql.DB, driver string, ph sq.PlaceholderFormat, log logx.Logger) *sqlStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqlStore{db: db, log: log, qb: sq.StatementBuilder.PlaceholderFormat(ph), driver: driver}
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.driver + ".sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", s.driver, err)
		}
	}
	return nil
}

func (s *sqlStore) Driver() string { return s.driver }

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) LoadState(ctx context.Context) (State, error) {
	if s == nil || s.db == nil {
		return State{}, ErrDisabled
	}
	q, args, err := s.qb.Select("cursor_offset", "updated_at_ms").
		From("watch_state").
		Where(sq.Eq{"id": 1}).
		ToSql()
	if err != nil {
		return State{}, err
	}
	var off, ms int64
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&off, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	st := State{Offset: off}
	if ms > 0 {
		st.LastUpdated = time.UnixMilli(ms)
	}
	return st, nil
}

// SaveState upserts the single state row inside one transaction.
func (s *sqlStore) SaveState(ctx context.Context, st State) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	q, args, err := s.qb.Insert("watch_state").
		Columns("id", "cursor_offset", "updated_at_ms").
		Values(1, st.Offset, st.LastUpdated.UnixMilli()).
		Suffix("ON CONFLICT (id) DO UPDATE SET cursor_offset = excluded.cursor_offset, updated_at_ms = excluded.updated_at_ms").
		ToSql()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	ok := 0
	if r.OK {
		ok = 1
	}
	q, args, err := s.qb.Insert("deliveries").
		Columns("id", "item_id", "tag", "name", "power", "price", "at_ms", "ok", "err").
		Values(r.ID, r.ItemID, r.Tag, nullStr(r.Name), r.Power, nullStr(r.Price), r.At.UnixMilli(), ok, nullStr(r.Error)).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *sqlStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q, args, err := s.qb.Select("id", "item_id", "tag", "name", "power", "price", "at_ms", "ok", "err").
		From("deliveries").
		OrderBy("at_ms DESC").
		Limit(uint64(clampLimit(limit))).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var (
			r                 DeliveryRecord
			name, price, errS sql.NullString
			ms                int64
			ok                int
		)
		if err := rows.Scan(&r.ID, &r.ItemID, &r.Tag, &name, &r.Power, &price, &ms, &ok, &errS); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		r.Name, r.Price, r.Error = name.String, price.String, errS.String
		r.At = time.UnixMilli(ms)
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
