package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// reminderRow keeps the due instant twice: timestamptz only holds
// microseconds, so queries and ordering use the nanosecond column and
// due_at is for people reading the table.
type reminderRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	OwnerID   int64     `gorm:"index:idx_reminders_owner_due,priority:1;not null"`
	Text      string    `gorm:"type:text;not null"`
	DueAt     time.Time `gorm:"not null"`
	DueNanos  int64     `gorm:"column:due_ns;index:idx_reminders_owner_due,priority:2;index:idx_reminders_due;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (reminderRow) TableName() string { return "reminders" }

func (r reminderRow) toReminder() reminder.Reminder {
	return reminder.Reminder{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Text:      r.Text,
		DueAt:     time.Unix(0, r.DueNanos).UTC(),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type postgresStore struct {
	db  *gorm.DB
	log logx.Logger
}

// gormWriter routes gorm's slow-query and error lines into logx.
type gormWriter struct{ log logx.Logger }

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func openPostgres(cfg Config, log logx.Logger) (*postgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	gl := gormlogger.New(gormWriter{log: log}, gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gl})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	conns := cfg.MaxOpenConns
	if conns <= 0 {
		conns = 4
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.AutoMigrate(&reminderRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("storage opened", logx.String("dialect", db.Dialector.Name()))
	return &postgresStore{db: db, log: log}, nil
}

func (s *postgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *postgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return reminder.Unavailable("ping", err)
	}
	return reminder.Unavailable("ping", sqlDB.PingContext(ctx))
}

func (s *postgresStore) Insert(ctx context.Context, ownerID int64, text string, dueAt, createdAt time.Time) (int64, error) {
	row := reminderRow{
		OwnerID:   ownerID,
		Text:      text,
		DueAt:     dueAt.UTC(),
		DueNanos:  dueAt.UnixNano(),
		CreatedAt: createdAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, reminder.Unavailable("insert", err)
	}
	return row.ID, nil
}

func (s *postgresStore) ListByOwner(ctx context.Context, ownerID int64) ([]reminder.Reminder, error) {
	var rows []reminderRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("due_ns ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, reminder.Unavailable("list", err)
	}
	return toReminders(rows), nil
}

func (s *postgresStore) DeleteForOwner(ctx context.Context, id, ownerID int64) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&reminderRow{})
	if res.Error != nil {
		return false, reminder.Unavailable("delete", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *postgresStore) SelectDue(ctx context.Context, asOf time.Time) ([]reminder.Reminder, error) {
	var rows []reminderRow
	err := s.db.WithContext(ctx).
		Where("due_ns <= ?", asOf.UnixNano()).
		Order("due_ns ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, reminder.Unavailable("select due", err)
	}
	return toReminders(rows), nil
}

func (s *postgresStore) DeleteByID(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Delete(&reminderRow{}, id).Error
	return reminder.Unavailable("delete", err)
}

func toReminders(rows []reminderRow) []reminder.Reminder {
	out := make([]reminder.Reminder, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toReminder())
	}
	return out
}
