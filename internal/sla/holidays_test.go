package sla

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRows struct {
	data [][]any
	i    int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { return r.i < len(r.data) }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i]
	r.i++
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			*d = row[i].(string)
		case *time.Time:
			*d = row[i].(time.Time)
		}
	}
	return nil
}

type fakeDB struct {
	holidays [][]any
	err      error
}

func (db fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if db.err != nil {
		return nil, db.err
	}
	if sql == holidaysSQL {
		return &fakeRows{data: db.holidays}, nil
	}
	return &fakeRows{}, nil
}

func TestLoadHolidays(t *testing.T) {
	cases := []struct {
		name     string
		db       fakeDB
		want     int
		validate func(t *testing.T, cals *Calendars)
	}{
		{
			name: "normalizes holidays",
			db: fakeDB{holidays: [][]any{
				{"US", time.Date(2024, 7, 4, 15, 30, 0, 0, time.UTC)},
			}},
			want: 1,
			validate: func(t *testing.T, cals *Calendars) {
				cal := cals.For("us")
				day := time.Date(2024, 7, 4, 0, 0, 0, 0, cal.Location)
				if _, ok := cal.Holidays[day]; !ok {
					t.Fatalf("expected holiday to be normalized to local midnight")
				}
				if cal.IsBusinessDay(time.Date(2024, 7, 4, 10, 0, 0, 0, cal.Location)) {
					t.Fatalf("holiday counted as business day")
				}
			},
		},
		{
			name: "keeps locations apart",
			db: fakeDB{holidays: [][]any{
				{"UK", time.Date(2024, 12, 26, 0, 0, 0, 0, time.UTC)},
				{"UK", time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC)},
			}},
			want: 2,
			validate: func(t *testing.T, cals *Calendars) {
				uk := cals.For("UK")
				if len(uk.Holidays) != 2 {
					t.Fatalf("expected 2 UK holidays, got %d", len(uk.Holidays))
				}
				if len(cals.For("US").Holidays) != 0 {
					t.Fatalf("US calendar picked up UK holidays")
				}
			},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cals := NewCalendars()
			n, err := LoadHolidays(context.Background(), tt.db, cals)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n != tt.want {
				t.Fatalf("loaded %d holidays, want %d", n, tt.want)
			}
			tt.validate(t, cals)
		})
	}
}

func TestLoadHolidaysQueryError(t *testing.T) {
	boom := errors.New("boom")
	if _, err := LoadHolidays(context.Background(), fakeDB{err: boom}, NewCalendars()); !errors.Is(err, boom) {
		t.Fatalf("expected query error, got %v", err)
	}
}
