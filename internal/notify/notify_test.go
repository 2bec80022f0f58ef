package notify

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/stork/internal/delivery"
	"github.com/MarcoPoloResearchLab/stork/internal/records"
	"github.com/MarcoPoloResearchLab/stork/internal/texts"
)

type fakeSender struct {
	requests []delivery.Request
}

func (f *fakeSender) Send(_ context.Context, req delivery.Request) (delivery.Result, error) {
	f.requests = append(f.requests, req)
	return delivery.Result{MessageID: len(f.requests), Date: time.Unix(1700000000, 0).UTC()}, nil
}

type fakeLogbook struct {
	events []string
}

func (f *fakeLogbook) EnqueueEvent(_ context.Context, body string) error {
	f.events = append(f.events, body)
	return nil
}

type fixture struct {
	users *records.UserRepository
	dates *records.UserDateRepository
	texts *texts.Repository
}

func openFixture(t *testing.T) fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:notify_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

func seedTexts(t *testing.T, fx fixture, language string) {
	t.Helper()
	values := map[string]string{
		texts.KeyPDRNotify:     "due today, {1}",
		texts.KeyPeriodNotify:  "you are at {2}, {1}",
		texts.KeyNotRecognized: "unknown date",
		texts.KeyUnitSeparator: "and",
		texts.KeyUnitWeekOne:   "week",
		texts.KeyUnitWeekFew:   "weeks",
		texts.KeyUnitWeekMany:  "weeks",
		texts.KeyUnitDayOne:    "day",
		texts.KeyUnitDayFew:    "days",
		texts.KeyUnitDayMany:   "days",
	}
	var existing []texts.Text
	all, err := fx.texts.All(context.Background())
	if err != nil {
		t.Fatalf("load texts failed: %v", err)
	}
	existing = append(existing, all...)
	for key, content := range values {
		existing = append(existing, texts.Text{Key: key, Language: language, Content: content})
	}
	if _, err := fx.texts.Sync(context.Background(), existing); err != nil {
		t.Fatalf("seed texts failed: %v", err)
	}
}

func mustNotifyEngine(t *testing.T, fx fixture, sender *fakeSender, log *fakeLogbook, now time.Time) *Engine {
	t.Helper()
	sleeper := func(context.Context, time.Duration) error { return nil }
	engine, err := NewEngine(EngineConfig{
		Dates:            fx.dates,
		Texts:            fx.texts,
		Sender:           sender,
		Log:              log,
		FallbackLanguage: "en",
		Clock:            func() time.Time { return now },
		Sleep:            sleeper,
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	return engine
}

func seedUserWithDate(t *testing.T, fx fixture, userID, chatID int64, language string) *records.UserDate {
	t.Helper()
	ctx := context.Background()
	if err := fx.users.Create(ctx, &records.User{ID: userID, FullName: "Anna", Username: "anna", Language: language}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	date, err := fx.dates.GetOrCreate(ctx, userID, chatID)
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	return date
}

func TestPDRScanNotifiesDueChats(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	seedTexts(t, fx, "en")
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	date := seedUserWithDate(t, fx, 100, -500, "en")
	if err := fx.dates.UpdatePDRDate(ctx, date, time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("update pdr failed: %v", err)
	}

	sender := &fakeSender{}
	log := &fakeLogbook{}
	engine := mustNotifyEngine(t, fx, sender, log, now)

	if err := engine.PDRScan(ctx); err != nil {
		t.Fatalf("pdr scan failed: %v", err)
	}

	if len(sender.requests) != 1 {
		t.Fatalf("expected one notification, got %d", len(sender.requests))
	}
	if sender.requests[0].ChatID != -500 {
		t.Fatalf("notification must target the tracked chat, got %d", sender.requests[0].ChatID)
	}
	if sender.requests[0].Text != "due today, Anna" {
		t.Fatalf("unexpected notification text: %q", sender.requests[0].Text)
	}
	if len(log.events) != 1 || !strings.Contains(log.events[0], "due date reached") {
		t.Fatalf("expected a log event, got %v", log.events)
	}
}

func TestPDRScanSkipsOtherDays(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	seedTexts(t, fx, "en")
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	date := seedUserWithDate(t, fx, 100, -500, "en")
	if err := fx.dates.UpdatePDRDate(ctx, date, time.Date(2026, 5, 11, 0, 30, 0, 0, time.UTC)); err != nil {
		t.Fatalf("update pdr failed: %v", err)
	}

	sender := &fakeSender{}
	engine := mustNotifyEngine(t, fx, sender, &fakeLogbook{}, now)
	if err := engine.PDRScan(ctx); err != nil {
		t.Fatalf("pdr scan failed: %v", err)
	}
	if len(sender.requests) != 0 {
		t.Fatalf("tomorrow's due date must not fire today")
	}
}

func TestPeriodScanFiresOnExactWeekBoundary(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	seedTexts(t, fx, "en")
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	date := seedUserWithDate(t, fx, 100, -500, "en")
	if err := fx.dates.UpdatePeriodDate(ctx, date, now.Add(-14*24*time.Hour)); err != nil {
		t.Fatalf("update period failed: %v", err)
	}

	sender := &fakeSender{}
	log := &fakeLogbook{}
	engine := mustNotifyEngine(t, fx, sender, log, now)
	if err := engine.PeriodScan(ctx); err != nil {
		t.Fatalf("period scan failed: %v", err)
	}

	if len(sender.requests) != 1 {
		t.Fatalf("expected one notification, got %d", len(sender.requests))
	}
	if sender.requests[0].Text != "you are at 2 weeks, Anna" {
		t.Fatalf("unexpected notification text: %q", sender.requests[0].Text)
	}
	if len(log.events) != 1 || !strings.Contains(log.events[0], "2 weeks") {
		t.Fatalf("expected a progress log event, got %v", log.events)
	}
}

func TestPeriodScanSkipsMidWeek(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	seedTexts(t, fx, "en")
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	date := seedUserWithDate(t, fx, 100, -500, "en")
	if err := fx.dates.UpdatePeriodDate(ctx, date, now.Add(-16*24*time.Hour)); err != nil {
		t.Fatalf("update period failed: %v", err)
	}

	sender := &fakeSender{}
	engine := mustNotifyEngine(t, fx, sender, &fakeLogbook{}, now)
	if err := engine.PeriodScan(ctx); err != nil {
		t.Fatalf("period scan failed: %v", err)
	}
	if len(sender.requests) != 0 {
		t.Fatalf("mid-week records must not fire")
	}
}

func TestPeriodScanStopsAfterFullTermWithoutDueDate(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	seedTexts(t, fx, "en")
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	date := seedUserWithDate(t, fx, 100, -500, "en")
	if err := fx.dates.UpdatePeriodDate(ctx, date, now.Add(-41*7*24*time.Hour)); err != nil {
		t.Fatalf("update period failed: %v", err)
	}

	sender := &fakeSender{}
	engine := mustNotifyEngine(t, fx, sender, &fakeLogbook{}, now)
	if err := engine.PeriodScan(ctx); err != nil {
		t.Fatalf("period scan failed: %v", err)
	}
	if len(sender.requests) != 0 {
		t.Fatalf("week 41 without a due date must not fire")
	}
}

func TestPeriodScanContinuesPastTermBeforeDueDate(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	seedTexts(t, fx, "en")
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	date := seedUserWithDate(t, fx, 100, -500, "en")
	if err := fx.dates.UpdatePeriodDate(ctx, date, now.Add(-41*7*24*time.Hour)); err != nil {
		t.Fatalf("update period failed: %v", err)
	}
	if err := fx.dates.UpdatePDRDate(ctx, date, now.Add(7*24*time.Hour)); err != nil {
		t.Fatalf("update pdr failed: %v", err)
	}

	sender := &fakeSender{}
	engine := mustNotifyEngine(t, fx, sender, &fakeLogbook{}, now)
	if err := engine.PeriodScan(ctx); err != nil {
		t.Fatalf("period scan failed: %v", err)
	}
	if len(sender.requests) != 1 {
		t.Fatalf("future due date keeps notifications running, got %d", len(sender.requests))
	}
}

func TestPeriodScanStopsAfterDueDatePassed(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	seedTexts(t, fx, "en")
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	date := seedUserWithDate(t, fx, 100, -500, "en")
	if err := fx.dates.UpdatePeriodDate(ctx, date, now.Add(-14*24*time.Hour)); err != nil {
		t.Fatalf("update period failed: %v", err)
	}
	if err := fx.dates.UpdatePDRDate(ctx, date, now.Add(-24*time.Hour)); err != nil {
		t.Fatalf("update pdr failed: %v", err)
	}

	sender := &fakeSender{}
	engine := mustNotifyEngine(t, fx, sender, &fakeLogbook{}, now)
	if err := engine.PeriodScan(ctx); err != nil {
		t.Fatalf("period scan failed: %v", err)
	}
	if len(sender.requests) != 0 {
		t.Fatalf("past due date must stop period notifications")
	}
}

func TestPeriodScanEvaluatesDayBoundaryInConfiguredTimezone(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	seedTexts(t, fx, "en")
	// 22:30 UTC is already the next day at UTC+3.
	now := time.Date(2026, 5, 10, 22, 30, 0, 0, time.UTC)

	date := seedUserWithDate(t, fx, 100, -500, "en")
	if err := fx.dates.UpdatePeriodDate(ctx, date, time.Date(2026, 4, 27, 1, 30, 0, 0, time.UTC)); err != nil {
		t.Fatalf("update period failed: %v", err)
	}

	sleeper := func(context.Context, time.Duration) error { return nil }
	sender := &fakeSender{}
	engine, err := NewEngine(EngineConfig{
		Dates:            fx.dates,
		Texts:            fx.texts,
		Sender:           sender,
		Log:              &fakeLogbook{},
		FallbackLanguage: "en",
		TimezoneOffset:   3,
		Clock:            func() time.Time { return now },
		Sleep:            sleeper,
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}

	if err := engine.PeriodScan(ctx); err != nil {
		t.Fatalf("period scan failed: %v", err)
	}
	if len(sender.requests) != 1 {
		t.Fatalf("the two week boundary falls on the shifted day, got %d sends", len(sender.requests))
	}
	if sender.requests[0].Text != "you are at 2 weeks, Anna" {
		t.Fatalf("unexpected notification text: %q", sender.requests[0].Text)
	}

	// Without the offset the same instant is still six days into the week.
	plainSender := &fakeSender{}
	plain := mustNotifyEngine(t, fx, plainSender, &fakeLogbook{}, now)
	if err := plain.PeriodScan(ctx); err != nil {
		t.Fatalf("period scan failed: %v", err)
	}
	if len(plainSender.requests) != 0 {
		t.Fatalf("without the offset the boundary is not reached yet, got %d sends", len(plainSender.requests))
	}
}

func TestNotificationsFallBackToDefaultLanguage(t *testing.T) {
	ctx := context.Background()
	fx := openFixture(t)
	seedTexts(t, fx, "en")
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	date := seedUserWithDate(t, fx, 100, -500, "de")
	if err := fx.dates.UpdatePDRDate(ctx, date, now); err != nil {
		t.Fatalf("update pdr failed: %v", err)
	}

	sender := &fakeSender{}
	engine := mustNotifyEngine(t, fx, sender, &fakeLogbook{}, now)
	if err := engine.PDRScan(ctx); err != nil {
		t.Fatalf("pdr scan failed: %v", err)
	}
	if len(sender.requests) != 1 || sender.requests[0].Text != "due today, Anna" {
		t.Fatalf("expected the fallback language text, got %+v", sender.requests)
	}
}
