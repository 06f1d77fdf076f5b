package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"mediavault/internal/pkg/mediatype"
)

// Repository is the metadata ledger. Pages are 1-indexed and ordered newest
// first, ties broken by id.
type Repository interface {
	Create(ctx context.Context, r *FileRecord) error
	ListPage(ctx context.Context, page, perPage int, category mediatype.Category) ([]*FileRecord, int64, error)
	ListAll(ctx context.Context) ([]*FileRecord, error)
	GetByID(ctx context.Context, id string) (*FileRecord, error)
	GetByStoredName(ctx context.Context, name string) (*FileRecord, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByStoredName(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns the relational ledger.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// AutoMigrate creates or updates the files table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&FileRecord{})
}

func (r *repository) Create(ctx context.Context, rec *FileRecord) error {
	err := r.db.WithContext(ctx).Create(rec).Error
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func (r *repository) ListPage(ctx context.Context, page, perPage int, category mediatype.Category) ([]*FileRecord, int64, error) {
	if page < 1 || perPage < 1 {
		return nil, 0, ErrInvalidPage
	}

	scoped := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&FileRecord{})
		if category != "" {
			q = q.Where("category = ?", category)
		}
		return q
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	items := make([]*FileRecord, 0, perPage)
	if int64((page-1)*perPage) >= total {
		return items, total, nil
	}
	err := scoped().Order("created_at DESC").Order("id ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&items).Error
	return items, total, err
}

func (r *repository) ListAll(ctx context.Context) ([]*FileRecord, error) {
	var items []*FileRecord
	err := r.db.WithContext(ctx).Order("created_at DESC").Order("id ASC").Find(&items).Error
	return items, err
}

func (r *repository) GetByID(ctx context.Context, id string) (*FileRecord, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *repository) GetByStoredName(ctx context.Context, name string) (*FileRecord, error) {
	return r.first(ctx, "stored_name = ?", name)
}

func (r *repository) DeleteByID(ctx context.Context, id string) error {
	return r.delete(ctx, "id = ?", id)
}

func (r *repository) DeleteByStoredName(ctx context.Context, name string) error {
	return r.delete(ctx, "stored_name = ?", name)
}

func (r *repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *repository) first(ctx context.Context, query string, arg string) (*FileRecord, error) {
	var rec FileRecord
	err := r.db.WithContext(ctx).Where(query, arg).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repository) delete(ctx context.Context, query string, arg string) error {
	res := r.db.WithContext(ctx).Where(query, arg).Delete(&FileRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// sqlite drivers only expose the message
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
