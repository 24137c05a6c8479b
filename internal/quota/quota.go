// Package quota enforces the per-user daily request budget. The sqlite
// table is the single source of truth; reservations are a single
// conditional increment so concurrent requests can never over-grant.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrExceeded is returned when the user has no remaining budget today.
var ErrExceeded = errors.New("daily quota exceeded")

// Record is one row per (user, UTC day).
type Record struct {
	UserID int64  `gorm:"primaryKey"`
	Day    string `gorm:"primaryKey;size:10"`
	Count  int    `gorm:"not null;default:0"`
}

func (Record) TableName() string { return "user_message_counts" }

type Status struct {
	Used      int
	Remaining int
}

type Tracker struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

type Option func(*Tracker)

// WithClock overrides the time source; tests use it to pin the day.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Open opens (creating if needed) the sqlite store at path and migrates
// the quota table.
func Open(path string, log *zap.Logger, opts ...Option) (*Tracker, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=10000"), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open quota store: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate quota table: %w", err)
	}

	return NewTracker(db, log, opts...), nil
}

func NewTracker(db *gorm.DB, log *zap.Logger, opts ...Option) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tracker{db: db, log: log, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Day returns the current quota day. Day boundaries are always UTC so
// resets behave identically across workers.
func (t *Tracker) Day() string {
	return t.now().UTC().Format("2006-01-02")
}

// CheckAndReserve consumes one unit of the user's budget for today.
// The reservation is a single conditional upsert: either the row is
// created at count 1, or the existing count is incremented only while
// still below limit. Zero affected rows means the budget is gone.
// Store failures deny the request rather than granting it.
func (t *Tracker) CheckAndReserve(ctx context.Context, userID int64, limit int) error {
	if limit <= 0 {
		return ErrExceeded
	}

	day := t.Day()
	res := t.db.WithContext(ctx).Exec(
		`INSERT INTO user_message_counts (user_id, day, count) VALUES (?, ?, 1)
		 ON CONFLICT(user_id, day) DO UPDATE SET count = count + 1 WHERE count < ?`,
		userID, day, limit,
	)
	if res.Error != nil {
		t.log.Error("quota reservation failed; denying request",
			zap.Int64("user_id", userID), zap.String("day", day), zap.Error(res.Error))
		return fmt.Errorf("reserve quota: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		return ErrExceeded
	}
	return nil
}

// Status reports today's usage without consuming budget.
func (t *Tracker) Status(ctx context.Context, userID int64, limit int) (Status, error) {
	var rec Record
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, t.Day()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Status{Used: 0, Remaining: limit}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read quota status: %w", err)
	}

	remaining := limit - rec.Count
	if remaining < 0 {
		remaining = 0
	}
	return Status{Used: rec.Count, Remaining: remaining}, nil
}
