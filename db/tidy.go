package db

import (
	"database/sql"
	"time"

	sb "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Tidy removes samples older than the retention window from the database
func Tidy(database string, retentionDays int) error {
	db, err := connection(database)
	if err != nil {
		return err
	}

	return tidy(db, time.Duration(retentionDays)*24*time.Hour)
}

func tidy(db *sql.DB, retention time.Duration) error {
	cutoff := time.Now().Add(-retention).Unix()
	deleteSamples := sb.NewDeleteBuilder()
	sql, args := deleteSamples.DeleteFrom("samples").Where(deleteSamples.LessEqualThan("created_at", cutoff)).Build()

	log.WithFields(log.Fields{
		"sql":  sql,
		"args": args,
	}).Info("Tidying database")

	_, err := db.Exec(sql, args...)
	if err != nil {
		return err
	}

	return nil
}
