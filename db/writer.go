package db

import (
	"time"

	"database/sql"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"vitals/models"
)

// Writer persists sample events into SQLite. Events are handed over with
// Enqueue (non-blocking) and drained by the Subscribe loop, which also
// prunes old rows on a tidy ticker.
type Writer struct {
	db         *sql.DB
	sampleChan chan models.SampleEvent
	tidyChan   *time.Ticker
	retention  time.Duration
	done       chan struct{}
}

func NewWriter(database string, retentionDays int) (*Writer, error) {
	db, err := connection(database)
	if err != nil {
		return nil, err
	}
	return &Writer{
		db:         db,
		sampleChan: make(chan models.SampleEvent, 1024),
		// Prune old samples every 5 minutes
		tidyChan:  time.NewTicker(5 * time.Minute),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		done:      make(chan struct{}),
	}, nil
}

// Enqueue hands a sample event to the writer without blocking the caller.
func (writer *Writer) Enqueue(evt models.SampleEvent) {
	select {
	case writer.sampleChan <- evt:
	default:
		log.Warn("Sample writer queue full, dropping event")
	}
}

// Stop ends the Subscribe loop.
func (writer *Writer) Stop() {
	close(writer.done)
}

func (writer *Writer) Subscribe() {
	// Tidy database immediately
	if err := tidy(writer.db, writer.retention); err != nil {
		log.Error("Error tidying database ", err)
	}

	for {
		select {
		case <-writer.done:
			writer.tidyChan.Stop()
			return

		case <-writer.tidyChan.C:
			log.Info("Tidying database")
			if err := tidy(writer.db, writer.retention); err != nil {
				log.Error("Error tidying database ", err)
			}

		case evt := <-writer.sampleChan:
			if err := createSamples(writer.db, evt); err != nil {
				log.Error("Error inserting samples ", err)
			}
		}
	}
}

// createSamples writes one row per numeric field of the event. Textual
// fields are display-only and not worth charting.
func createSamples(db *sql.DB, evt models.SampleEvent) error {
	insert := sqlbuilder.NewInsertBuilder()
	insert.InsertInto("samples").Cols("feed_key", "field", "value", "created_at")

	rows := 0
	for field, value := range evt.Values {
		num, ok := numeric(value)
		if !ok {
			continue
		}
		insert.Values(evt.FeedKey, field, num, evt.CollectedAt.Unix())
		rows++
	}
	if rows == 0 {
		return nil
	}

	sql, args := insert.Build()
	if _, err := db.Exec(sql, args...); err != nil {
		return err
	}
	return nil
}

func numeric(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
