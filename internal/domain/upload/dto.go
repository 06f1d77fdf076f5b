package upload

import (
	"time"

	"mediavault/internal/optimizer"
	"mediavault/internal/pkg/mediatype"
)

// Descriptor is the client view of a stored file.
type Descriptor struct {
	ID           string             `json:"id"`
	OriginalName string             `json:"original_name"`
	StoredName   string             `json:"stored_name"`
	Category     mediatype.Category `json:"category"`
	SizeBytes    int64              `json:"size_bytes"`
	ContentType  string             `json:"content_type"`
	CreatedAt    time.Time          `json:"created_at"`
	Optimized    bool               `json:"optimized"`
	URL          string             `json:"url"`
}

func NewDescriptor(rec *FileRecord) Descriptor {
	return Descriptor{
		ID:           rec.ID,
		OriginalName: rec.OriginalName,
		StoredName:   rec.StoredName,
		Category:     rec.Category,
		SizeBytes:    rec.SizeBytes,
		ContentType:  rec.ContentType,
		CreatedAt:    rec.CreatedAt,
		Optimized:    rec.Optimized,
		URL:          "/files/" + rec.StoredName,
	}
}

// ListResponse is the body of GET /list.
type ListResponse struct {
	Items      []Descriptor `json:"items"`
	Total      int64        `json:"total"`
	Page       int          `json:"page"`
	PerPage    int          `json:"per_page"`
	TotalPages int64        `json:"total_pages"`
}

func NewListResponse(res *ListResult) ListResponse {
	items := make([]Descriptor, 0, len(res.Items))
	for _, rec := range res.Items {
		items = append(items, NewDescriptor(rec))
	}
	pages := (res.Total + int64(res.PerPage) - 1) / int64(res.PerPage)
	return ListResponse{
		Items:      items,
		Total:      res.Total,
		Page:       res.Page,
		PerPage:    res.PerPage,
		TotalPages: pages,
	}
}

// optimizeForm binds web optimization fields from the multipart form or
// query string. Pointers distinguish "absent" from an explicit zero.
type optimizeForm struct {
	Quality       *int    `form:"quality" validate:"omitnil,min=1,max=100"`
	MaxWidth      *int    `form:"max_width" validate:"omitnil,min=100,max=4000"`
	MaxHeight     *int    `form:"max_height" validate:"omitnil,min=100,max=4000"`
	PreserveAlpha bool    `form:"preserve_alpha"`
	VideoQuality  *string `form:"video_quality" validate:"omitnil,oneof=low medium high LOW MEDIUM HIGH"`
}

func (f optimizeForm) options() optimizer.Options {
	opts := optimizer.Options{PreserveAlpha: f.PreserveAlpha}
	if f.Quality != nil {
		opts.Quality = *f.Quality
	}
	if f.MaxWidth != nil {
		opts.MaxWidth = *f.MaxWidth
	}
	if f.MaxHeight != nil {
		opts.MaxHeight = *f.MaxHeight
	}
	if f.VideoQuality != nil {
		opts.VideoQuality = optimizer.VideoQuality(*f.VideoQuality)
	}
	return opts
}

type listQuery struct {
	Page     int    `form:"page" validate:"min=1"`
	PerPage  int    `form:"per_page" validate:"min=1,max=100"`
	FileType string `form:"file_type"`
}
