package attendance

import (
	"context"
	"strings"

	"geoattend/internal/civilday"
)

// Query selects historical records for reporting.
type Query struct {
	Date      string // optional YYYY-MM-DD civil day
	StaffName string // optional exact staff name
	Page      int    // 1-indexed
	PageSize  int
}

// Page is one page of query results.
type Page struct {
	Records    []RecordView `json:"records"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
	Total      int          `json:"total"`
	TotalPages int          `json:"totalPages"`
}

// Records returns one page of matching records, newest first. A page past the
// end is empty, not an error.
func (s *Service) Records(ctx context.Context, who Identity, q Query) (Page, error) {
	if err := requireTeacher(who); err != nil {
		return Page{}, err
	}
	f, err := s.filter(q)
	if err != nil {
		return Page{}, err
	}
	page, size := s.normalizePage(q.Page, q.PageSize)

	total, err := s.repo.Count(ctx, f)
	if err != nil {
		return Page{}, storageError("count", err)
	}
	res := Page{Records: []RecordView{}, Page: page, PageSize: size, Total: total, TotalPages: TotalPages(total, size)}

	// compare pages before multiplying so huge page numbers cannot overflow the offset
	if total == 0 || page > res.TotalPages {
		return res, nil
	}
	rows, err := s.repo.List(ctx, f, size, (page-1)*size)
	if err != nil {
		return Page{}, storageError("list", err)
	}
	res.Records = rows
	return res, nil
}

// ExportRecords returns every record matching q, ignoring pagination.
func (s *Service) ExportRecords(ctx context.Context, who Identity, q Query) ([]RecordView, error) {
	if err := requireTeacher(who); err != nil {
		return nil, err
	}
	f, err := s.filter(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.List(ctx, f, 0, 0)
	if err != nil {
		return nil, storageError("list", err)
	}
	return rows, nil
}

// TotalPages is ceil(total / size).
func TotalPages(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

func (s *Service) filter(q Query) (RecordFilter, error) {
	f := RecordFilter{StaffName: strings.TrimSpace(q.StaffName)}
	if d := strings.TrimSpace(q.Date); d != "" {
		w, err := civilday.ParseDay(d, s.settings.Location)
		if err != nil {
			return RecordFilter{}, &Error{Kind: KindInvalidTimestamp, Message: "date must be YYYY-MM-DD", Err: err}
		}
		f.From, f.To = w.Start, w.End
	}
	return f, nil
}

func (s *Service) normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = s.settings.PageSize
	}
	if s.settings.MaxPageSize > 0 && size > s.settings.MaxPageSize {
		size = s.settings.MaxPageSize
	}
	return page, size
}

func requireTeacher(who Identity) error {
	if who.Role != RoleTeacher {
		return newError(KindNotAuthorized, "only teachers can view attendance records")
	}
	return nil
}
