package sla

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const holidaysSQL = "select location, day from sla_holidays order by location, day"

// LoadHolidays registers every row of sla_holidays with cals and returns how
// many were loaded.
func LoadHolidays(ctx context.Context, db DB, cals *Calendars) (int, error) {
	rows, err := db.Query(ctx, holidaysSQL)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var loc string
		var day time.Time
		if err := rows.Scan(&loc, &day); err != nil {
			return n, err
		}
		cals.AddHoliday(loc, day)
		n++
	}
	return n, rows.Err()
}
