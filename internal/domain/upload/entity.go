package upload

import (
	"time"

	"mediavault/internal/pkg/mediatype"
)

// FileRecord describes one stored file. Records are immutable after
// creation; the only other mutation is deletion.
type FileRecord struct {
	ID           string             `gorm:"column:id;primaryKey;size:36" json:"id"`
	OriginalName string             `gorm:"column:original_name;not null" json:"original_name"`
	StoredName   string             `gorm:"column:stored_name;size:255;not null;uniqueIndex" json:"stored_name"`
	Category     mediatype.Category `gorm:"column:category;size:16;not null;index" json:"category"`
	SizeBytes    int64              `gorm:"column:size_bytes;not null" json:"size_bytes"`
	ContentType  string             `gorm:"column:content_type;size:255;not null" json:"content_type"`
	CreatedAt    time.Time          `gorm:"column:created_at;not null;index" json:"created_at"`
	Optimized    bool               `gorm:"column:optimized;not null;default:false" json:"optimized"`
}

func (FileRecord) TableName() string { return "files" }

// Mode selects the ingest path.
type Mode string

const (
	ModePlain Mode = "plain"
	ModeWeb   Mode = "web"
)
