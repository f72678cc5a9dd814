package activity_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/chiobot/chio/bus"
	"github.com/chiobot/chio/chiodb"
	"github.com/chiobot/chio/extensions/activity"
)

func testTable(t *testing.T) (*activity.Table, *bus.Bus, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("couldn't create mock: %v", err)
	}
	pool := sqlx.NewDb(mockDB, "pgx")
	t.Cleanup(func() { pool.Close() })
	b := bus.New()
	return activity.NewTable(chiodb.NewWithPool(pool), b), b, mock
}

func afterRows(level, xp int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"level", "xp"}).AddRow(level, xp)
}

func TestAddMessage(t *testing.T) {
	t.Parallel()
	table, b, mock := testTable(t)
	// 3 words: 2 XP for the message plus 1 per word.
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO active`)).
		WithArgs(int64(12), 3, 5).
		WillReturnRows(afterRows(0, 5))
	var ups []activity.LevelUpEvent
	bus.On(b, func(ctx context.Context, ev activity.LevelUpEvent) {
		ups = append(ups, ev)
	})
	if err := table.AddMessage(context.Background(), 12, 3); err != nil {
		t.Fatalf("couldn't accrue message: %v", err)
	}
	if len(ups) != 0 {
		t.Errorf("level up below threshold: %+v", ups)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLevelUp(t *testing.T) {
	t.Parallel()
	table, b, mock := testTable(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO active`)).
		WithArgs(int64(12), 1, 30).
		WillReturnRows(afterRows(0, 230))
	// 230 XP crosses the thresholds for levels 1 (50) and 2 (200).
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE active SET level = $2 WHERE user_id = $1`)).
		WithArgs(int64(12), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	var ups []activity.LevelUpEvent
	bus.On(b, func(ctx context.Context, ev activity.LevelUpEvent) {
		ups = append(ups, ev)
	})
	if err := table.AddBump(context.Background(), 12); err != nil {
		t.Fatalf("couldn't accrue bump: %v", err)
	}
	if len(ups) != 1 || ups[0].Level != 2 || ups[0].UserID != 12 {
		t.Errorf("wrong level up events: %+v", ups)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAddVoice(t *testing.T) {
	t.Parallel()
	table, _, mock := testTable(t)
	// 90 seconds accrues one full minute of XP.
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO active`)).
		WithArgs(int64(12), 90, 5).
		WillReturnRows(afterRows(0, 5))
	if err := table.AddVoice(context.Background(), 12, 90*time.Second); err != nil {
		t.Fatalf("couldn't accrue voice: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAddVoiceZero(t *testing.T) {
	t.Parallel()
	// No expectations: an empty span writes nothing.
	table, _, mock := testTable(t)
	if err := table.AddVoice(context.Background(), 12, 0); err != nil {
		t.Fatalf("zero span errored: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestThreshold(t *testing.T) {
	t.Parallel()
	cases := []struct {
		level int
		want  int
	}{
		{level: 0, want: 0},
		{level: 1, want: 50},
		{level: 2, want: 200},
		{level: 5, want: 1250},
	}
	for _, c := range cases {
		if got := activity.Threshold(c.level); got != c.want {
			t.Errorf("wrong threshold for level %d: want %d, got %d", c.level, c.want, got)
		}
	}
	// Thresholds are strictly increasing, so promotion terminates.
	for l := 1; l < 100; l++ {
		if activity.Threshold(l) <= activity.Threshold(l-1) {
			t.Fatalf("threshold not increasing at level %d", l)
		}
	}
}

func TestCountWords(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want int
	}{
		{name: "empty", in: "", want: 0},
		{name: "spaces", in: "   ", want: 0},
		{name: "words", in: "nya nya nya", want: 3},
		{name: "newlines", in: "one\ntwo\tthree", want: 3},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			if got := activity.CountWords(c.in); got != c.want {
				t.Errorf("wrong count: want %d, got %d", c.want, got)
			}
		})
	}
}
