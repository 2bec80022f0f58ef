package backup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/stork/internal/records"
	"github.com/MarcoPoloResearchLab/stork/internal/texts"
)

type fakeWorksheet struct {
	rows    [][]string
	size    int64
	updates map[int64][]string
	added   []int64
}

func newFakeWorksheet(size int64, rows ...[]string) *fakeWorksheet {
	return &fakeWorksheet{rows: rows, size: size, updates: make(map[int64][]string)}
}

func (f *fakeWorksheet) ReadAll(_ context.Context) ([][]string, error) {
	return f.rows, nil
}

func (f *fakeWorksheet) ReadRow(_ context.Context, row int64) ([]string, error) {
	if row > f.size {
		return nil, errors.New("googleapi: Error 400: range exceeds grid limits")
	}
	if int(row) <= len(f.rows) {
		return f.rows[row-1], nil
	}
	return nil, nil
}

func (f *fakeWorksheet) UpdateRow(_ context.Context, row int64, values []string) error {
	if row > f.size {
		return errors.New("googleapi: Error 400: range exceeds grid limits")
	}
	f.updates[row] = values
	return nil
}

func (f *fakeWorksheet) AddRows(_ context.Context, count int64) error {
	f.size += count
	f.added = append(f.added, count)
	return nil
}

type fakeSleeper struct {
	pauses []time.Duration
}

func (f *fakeSleeper) sleep(_ context.Context, d time.Duration) error {
	f.pauses = append(f.pauses, d)
	return nil
}

type fixture struct {
	users *records.UserRepository
	dates *records.UserDateRepository
	texts *texts.Repository
}

func openFixture(t *testing.T) fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:backup_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&records.User{}, &records.UserDate{}, &texts.Text{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	users, err := records.NewUserRepository(db)
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	dates, err := records.NewUserDateRepository(db)
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	textRepo, err := texts.NewRepository(db)
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	return fixture{users: users, dates: dates, texts: textRepo}
}

func mustEngine(t *testing.T, fx fixture, usersSheet, datesSheet, textsSheet *fakeWorksheet, sleeper *fakeSleeper) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		Users:      fx.users,
		Dates:      fx.dates,
		Texts:      fx.texts,
		UsersSheet: usersSheet,
		DatesSheet: datesSheet,
		TextsSheet: textsSheet,
		Sleep:      sleeper.sleep,
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	return engine
}

func TestPushWritesDirtyUserRowAndClearsFlag(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	usersSheet := newFakeWorksheet(100)
	engine := mustEngine(t, fx, usersSheet, newFakeWorksheet(100), newFakeWorksheet(100), &fakeSleeper{})

	user := &records.User{ID: 100, FullName: "Anna", Language: "en", Reaction: true}
	if err := fx.users.Create(ctx, user); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := engine.Push(ctx); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	row, ok := usersSheet.updates[user.RowPointer]
	if !ok {
		t.Fatalf("expected a write to row %d, got %v", user.RowPointer, usersSheet.updates)
	}
	want := []string{"100", "Anna", "None", "en", "✅"}
	for i, cell := range want {
		if row[i] != cell {
			t.Fatalf("cell %d: got %q, want %q", i, row[i], cell)
		}
	}

	dirty, err := fx.users.DirtyUsers(ctx)
	if err != nil {
		t.Fatalf("dirty users failed: %v", err)
	}
	if len(dirty) != 0 {
		t.Fatalf("pushed users must be clean, got %d dirty", len(dirty))
	}
}

func TestPushFormatsDateRow(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	datesSheet := newFakeWorksheet(100)
	engine := mustEngine(t, fx, newFakeWorksheet(100), datesSheet, newFakeWorksheet(100), &fakeSleeper{})

	date, err := fx.dates.GetOrCreate(ctx, 100, -500)
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	if err := fx.dates.UpdatePDRDate(ctx, date, time.Date(2026, 5, 10, 14, 30, 0, 0, time.UTC)); err != nil {
		t.Fatalf("update pdr failed: %v", err)
	}

	if err := engine.Push(ctx); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	row, ok := datesSheet.updates[date.RowPointer]
	if !ok {
		t.Fatalf("expected a write to row %d", date.RowPointer)
	}
	want := []string{"100", "-500", "2026-05-10 14:30:00", "None"}
	for i, cell := range want {
		if row[i] != cell {
			t.Fatalf("cell %d: got %q, want %q", i, row[i], cell)
		}
	}
}

func TestPushGrowsSheetOnGridLimitAndRetriesOnce(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	usersSheet := newFakeWorksheet(1)
	sleeper := &fakeSleeper{}
	engine := mustEngine(t, fx, usersSheet, newFakeWorksheet(100), newFakeWorksheet(100), sleeper)

	user := &records.User{ID: 100, FullName: "Anna", Language: "en"}
	if err := fx.users.Create(ctx, user); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := engine.Push(ctx); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	if len(usersSheet.added) != 1 || usersSheet.added[0] != sheetGrowth {
		t.Fatalf("expected one growth of %d rows, got %v", sheetGrowth, usersSheet.added)
	}
	if len(sleeper.pauses) != 1 || sleeper.pauses[0] != growthPause {
		t.Fatalf("expected one settle pause, got %v", sleeper.pauses)
	}
	if _, ok := usersSheet.updates[user.RowPointer]; !ok {
		t.Fatalf("retry after growth must land the write")
	}
}

func TestPushDue(t *testing.T) {
	fx := openFixture(t)
	engine := mustEngine(t, fx, newFakeWorksheet(1), newFakeWorksheet(1), newFakeWorksheet(1), &fakeSleeper{})

	due := time.Date(2026, 5, 10, 14, 15, 0, 0, time.UTC)
	if !engine.PushDue(due) {
		t.Fatalf("minute 15 should be due")
	}
	idle := time.Date(2026, 5, 10, 14, 16, 0, 0, time.UTC)
	if engine.PushDue(idle) {
		t.Fatalf("minute 16 should not be due")
	}

	engine.devMode = true
	if !engine.PushDue(idle) {
		t.Fatalf("dev mode pushes immediately")
	}
}

func TestPullRecordsMapsHeaderAndSkipsBadRows(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	usersSheet := newFakeWorksheet(100,
		[]string{"id", "full_name", "username", "lang", "reaction"},
		[]string{"100", "Anna", "anna", "en", "✅"},
		[]string{"", "header junk", "", "", ""},
		[]string{"200", "Boris", "None", "ru", "🅾️"},
	)
	datesSheet := newFakeWorksheet(100,
		[]string{"user_id", "chat_id", "pdr_date", "period_date"},
		[]string{"100", "-500", "2026-05-10 14:30:00", "None"},
		[]string{"100"},
	)
	engine := mustEngine(t, fx, usersSheet, datesSheet, newFakeWorksheet(100), &fakeSleeper{})

	if err := engine.PullRecords(ctx); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	users, err := fx.users.All(ctx)
	if err != nil {
		t.Fatalf("all users failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}

	anna, err := fx.users.GetByID(ctx, 100)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if anna.Username != "anna" || !anna.Reaction || anna.RowPointer != 2 {
		t.Fatalf("unexpected pulled user: %+v", anna)
	}
	boris, err := fx.users.GetByID(ctx, 200)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if boris.Username != "" || boris.Reaction || boris.RowPointer != 4 {
		t.Fatalf("row pointer must track the sheet row, got %+v", boris)
	}

	dates, err := fx.dates.All(ctx)
	if err != nil {
		t.Fatalf("all dates failed: %v", err)
	}
	if len(dates) != 1 {
		t.Fatalf("short rows must be skipped; expected 1 date, got %d", len(dates))
	}
	if dates[0].PDRDate == nil || dates[0].PDRDate.Format("2006-01-02") != "2026-05-10" {
		t.Fatalf("unexpected pulled date: %+v", dates[0])
	}
}

func TestPullRecordsNeverDeletesLocalRows(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	if err := fx.users.Create(ctx, &records.User{ID: 300, FullName: "Clara"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	usersSheet := newFakeWorksheet(100,
		[]string{"id", "full_name", "username", "lang", "reaction"},
		[]string{"100", "Anna", "None", "en", "✅"},
	)
	engine := mustEngine(t, fx, usersSheet, newFakeWorksheet(100, []string{"user_id", "chat_id", "pdr_date", "period_date"}), newFakeWorksheet(100), &fakeSleeper{})

	if err := engine.PullRecords(ctx); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	users, err := fx.users.All(ctx)
	if err != nil {
		t.Fatalf("all users failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("pull must merge, not replace; expected 2 users, got %d", len(users))
	}
}

func TestPullTextsDecodesLanguageColumns(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	textsSheet := newFakeWorksheet(100,
		[]string{"", "ru", "en"},
		[]string{"greeting", "привет", "hello"},
		[]string{"", "junk", "junk"},
		[]string{"farewell", "пока", "bye"},
	)
	engine := mustEngine(t, fx, newFakeWorksheet(100), newFakeWorksheet(100), textsSheet, &fakeSleeper{})

	result, err := engine.PullTexts(ctx)
	if err != nil {
		t.Fatalf("pull texts failed: %v", err)
	}
	if len(result.Added["ru"]) != 2 || len(result.Added["en"]) != 2 {
		t.Fatalf("expected 2 keys per language, got %+v", result.Added)
	}

	stored, err := fx.texts.All(ctx)
	if err != nil {
		t.Fatalf("all texts failed: %v", err)
	}
	if len(stored) != 4 {
		t.Fatalf("expected 4 text records, got %d", len(stored))
	}
}

func TestColdStartSkipsPopulatedStores(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	if err := fx.users.Create(ctx, &records.User{ID: 100, FullName: "Anna"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := fx.texts.Sync(ctx, []texts.Text{{Key: "greeting", Language: "en", Content: "hello"}}); err != nil {
		t.Fatalf("seed texts failed: %v", err)
	}

	// Sheets with recognizable content; a pull would merge it in.
	usersSheet := newFakeWorksheet(100,
		[]string{"id", "full_name", "username", "lang", "reaction"},
		[]string{"900", "Sheet Only", "None", "en", "🅾️"},
	)
	engine := mustEngine(t, fx, usersSheet, newFakeWorksheet(100), newFakeWorksheet(100), &fakeSleeper{})

	if err := engine.ColdStart(ctx); err != nil {
		t.Fatalf("cold start failed: %v", err)
	}

	users, err := fx.users.All(ctx)
	if err != nil {
		t.Fatalf("all users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("populated store must not pull; expected 1 user, got %d", len(users))
	}
}
