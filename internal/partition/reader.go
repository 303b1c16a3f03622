package partition

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meridianidx/meridian/pkg/types"
)

func openReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("partition: failed to open %s: %w", path, err)
	}
	return db, nil
}

// ReadDaily returns every row of a daily artifact ordered by date, entity.
func ReadDaily(ctx context.Context, path string) ([]types.DailyMembershipRecord, error) {
	db, err := openReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return queryDaily(ctx, db,
		"SELECT universe, date, entity_id FROM daily_membership ORDER BY date, entity_id")
}

// MembersOn returns the daily rows for one date, ordered by entity.
func MembersOn(ctx context.Context, path string, date types.Date) ([]types.DailyMembershipRecord, error) {
	db, err := openReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return queryDaily(ctx, db,
		"SELECT universe, date, entity_id FROM daily_membership WHERE date = ? ORDER BY entity_id", date.String())
}

func queryDaily(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]types.DailyMembershipRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to query daily rows: %w", err)
	}
	defer rows.Close()

	var out []types.DailyMembershipRecord
	for rows.Next() {
		var universe, date, entity string
		if err := rows.Scan(&universe, &date, &entity); err != nil {
			return nil, fmt.Errorf("partition: failed to scan daily row: %w", err)
		}
		d, err := types.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("partition: bad date in daily row: %w", err)
		}
		out = append(out, types.DailyMembershipRecord{Date: d, EntityID: entity, Universe: universe})
	}
	return out, rows.Err()
}

// ReadIntervals returns every interval ordered by entity, start date.
func ReadIntervals(ctx context.Context, path string) ([]types.MembershipInterval, error) {
	db, err := openReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return queryIntervals(ctx, db,
		"SELECT universe, entity_id, start_date, end_date FROM membership_intervals ORDER BY entity_id, start_date")
}

// IntervalsCovering returns the intervals that contain date, ordered by entity.
func IntervalsCovering(ctx context.Context, path string, date types.Date) ([]types.MembershipInterval, error) {
	db, err := openReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	d := date.String()
	return queryIntervals(ctx, db, `
		SELECT universe, entity_id, start_date, end_date FROM membership_intervals
		WHERE start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY entity_id, start_date`, d, d)
}

// EntityIntervals returns one entity's intervals ordered by start date.
func EntityIntervals(ctx context.Context, path, entityID string) ([]types.MembershipInterval, error) {
	db, err := openReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return queryIntervals(ctx, db, `
		SELECT universe, entity_id, start_date, end_date FROM membership_intervals
		WHERE entity_id = ? ORDER BY start_date`, entityID)
}

func queryIntervals(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]types.MembershipInterval, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to query intervals: %w", err)
	}
	defer rows.Close()

	var out []types.MembershipInterval
	for rows.Next() {
		var universe, entity, start string
		var end sql.NullString
		if err := rows.Scan(&universe, &entity, &start, &end); err != nil {
			return nil, fmt.Errorf("partition: failed to scan interval: %w", err)
		}
		iv := types.MembershipInterval{EntityID: entity, Universe: universe, EndDate: types.OpenEnd}
		if iv.StartDate, err = types.ParseDate(start); err != nil {
			return nil, fmt.Errorf("partition: bad start_date for %s: %w", entity, err)
		}
		if end.Valid {
			if iv.EndDate, err = types.ParseDate(end.String); err != nil {
				return nil, fmt.Errorf("partition: bad end_date for %s: %w", entity, err)
			}
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// ReadBuildInfo returns the key/value build stamp embedded in an artifact.
func ReadBuildInfo(ctx context.Context, path string) (map[string]string, error) {
	db, err := openReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT key, value FROM _meridian_build")
	if err != nil {
		return nil, fmt.Errorf("partition: failed to read build info: %w", err)
	}
	defer rows.Close()

	info := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("partition: failed to scan build info: %w", err)
		}
		info[k] = v
	}
	return info, rows.Err()
}
