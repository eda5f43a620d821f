package repo

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"

	"github.com/tbourn/go-paywall-counter/internal/domain"
)

// paymentRow is the GORM mapping of a PaymentRecord. Seq preserves insertion
// order; ID is the external token.
type paymentRow struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"column:id;type:varchar(64);not null;uniqueIndex:ux_payments_id"`
	Timestamp  int64  `gorm:"not null"`
	Valid      bool   `gorm:"not null"`
	FirstVisit bool   `gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (paymentRow) TableName() string { return "payments" }

func (r paymentRow) record() domain.PaymentRecord {
	return domain.PaymentRecord{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		Valid:      r.Valid,
		FirstVisit: r.FirstVisit,
	}
}

// SQLiteStore persists records in a SQLite table through GORM. Every mutation
// is committed before the call returns.
type SQLiteStore struct {
	db *gorm.DB
	mu sync.RWMutex
}

// NewSQLiteStore migrates the schema and returns a store bound to db.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, rec domain.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := &paymentRow{
		ID:         rec.ID,
		Timestamp:  rec.Timestamp,
		Valid:      rec.Valid,
		FirstVisit: rec.FirstVisit,
	}
	return s.db.WithContext(ctx).Create(row).Error
}

// Find implements Store.
func (s *SQLiteStore) Find(ctx context.Context, id string) (domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(ctx, id)
}

func (s *SQLiteStore) find(ctx context.Context, id string) (domain.PaymentRecord, error) {
	var row paymentRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.PaymentRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	return row.record(), nil
}

// MarkVisited implements Store. The conditional UPDATE makes the flip happen
// at most once even across processes sharing the file.
func (s *SQLiteStore) MarkVisited(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).
		Model(&paymentRow{}).
		Where("id = ? AND first_visit = ?", id, true).
		Update("first_visit", false)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := s.find(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.WithContext(ctx).Model(&paymentRow{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// All implements Store.
func (s *SQLiteStore) All(ctx context.Context) ([]domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []paymentRow
	if err := s.db.WithContext(ctx).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.PaymentRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
