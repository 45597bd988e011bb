package db

import (
	"database/sql"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"

	"vitals/models"
)

type Reader struct {
	db *sql.DB
}

func NewReader(database string) (*Reader, error) {
	// Open in read-only mode with optimized settings
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?mode=ro&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", database))
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// Set connection pool settings for reader
	db.SetMaxOpenConns(4)            // Allow multiple concurrent readers
	db.SetMaxIdleConns(2)            // Keep some connections ready
	db.SetConnMaxLifetime(time.Hour) // Recreate connections after an hour
	db.SetConnMaxIdleTime(time.Hour) // Close idle connections after an hour

	if _, err := db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA synchronous = NORMAL;
		PRAGMA cache_size = -32000; -- 32MB cache
		PRAGMA temp_store = MEMORY;
	`); err != nil {
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return &Reader{db: db}, nil
}

// GetSamplesPerTime aggregates one field of one feed into hour, day or
// week buckets for the dashboard history chart.
func (reader *Reader) GetSamplesPerTime(feedKey string, field string, timeAgg string) ([]models.SamplesAggregatedByTime, error) {
	var sqlFormat string
	var timeParse func(string) (time.Time, error)

	switch timeAgg {
	case "day":
		sqlFormat = `STRFTIME('%Y-%m-%d', created_at, 'unixepoch')`
		timeParse = func(str string) (time.Time, error) {
			return time.Parse("2006-01-02", str)
		}
	case "minute":
		sqlFormat = `STRFTIME('%Y-%m-%d-%H-%M', created_at, 'unixepoch')`
		timeParse = func(str string) (time.Time, error) {
			return time.Parse("2006-01-02-15-04", str)
		}
	default: // hour
		sqlFormat = `STRFTIME('%Y-%m-%d-%H', created_at, 'unixepoch')`
		timeParse = func(str string) (time.Time, error) {
			return time.Parse("2006-01-02-15", str)
		}
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(sqlFormat, "AVG(value) as avg", "MAX(value) as max", "COUNT(*) as count").From("samples")
	sb.Where(sb.Equal("feed_key", feedKey))
	sb.Where(sb.Equal("field", field))
	sb.GroupBy(sqlFormat)
	sb.OrderBy("created_at").Asc()

	sql, args := sb.BuildWithFlavor(sqlbuilder.Flavor(sqlbuilder.SQLite))

	rows, err := reader.db.Query(sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []models.SamplesAggregatedByTime

	for rows.Next() {
		var sqlTime string
		var bucket models.SamplesAggregatedByTime

		if err := rows.Scan(&sqlTime, &bucket.Avg, &bucket.Max, &bucket.Count); err != nil {
			continue // Skip this row
		}
		if t, err := timeParse(sqlTime); err == nil {
			bucket.Time = t
		}
		buckets = append(buckets, bucket)
	}

	return buckets, nil
}

// GetRecentSamples returns the newest persisted rows for a feed, newest
// first.
func (reader *Reader) GetRecentSamples(feedKey string, limit int) ([]models.Sample, error) {
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("feed_key", "field", "value", "created_at").From("samples")
	sb.Where(sb.Equal("feed_key", feedKey))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	sql, args := sb.BuildWithFlavor(sqlbuilder.Flavor(sqlbuilder.SQLite))

	rows, err := reader.db.Query(sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		var s models.Sample
		var createdAt int64
		if err := rows.Scan(&s.FeedKey, &s.Field, &s.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		s.CollectedAt = time.Unix(createdAt, 0)
		samples = append(samples, s)
	}

	return samples, nil
}
