package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository persists attendance records in Postgres. The one-record-per-day
// rule is enforced by a unique index on (student_id, civil day of intime).
type PostgresRepository struct {
	db   *sql.DB
	zone string
}

// NewPostgresRepository creates a repo; zone is the IANA name used for civil days.
func NewPostgresRepository(db *sql.DB, zone string) *PostgresRepository {
	return &PostgresRepository{db: db, zone: zone}
}

const recordColumns = `id, student_id, intime, outtime, topic, staff_name, created_at`

// FindInWindow returns the record whose intime falls in [start, end).
func (r *PostgresRepository) FindInWindow(ctx context.Context, studentID string, start, end time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND intime >= $2 AND intime < $3
		LIMIT 1
	`, studentID, start, end)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find record: %w", err)
	}
	return &rec, nil
}

// CreateOrFetch inserts rec; on a same-day conflict it returns the existing row.
func (r *PostgresRepository) CreateOrFetch(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, intime)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
		RETURNING `+recordColumns, rec.ID, rec.StudentID, rec.InTime)
	stored, err := scanRecord(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, fmt.Errorf("insert record: %w", err)
	}

	row = r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1
		  AND (intime AT TIME ZONE $2)::date = ($3::timestamptz AT TIME ZONE $2)::date
	`, rec.StudentID, r.zone, rec.InTime)
	stored, err = scanRecord(row)
	if err != nil {
		return Record{}, false, fmt.Errorf("fetch conflicting record: %w", err)
	}
	return stored, false, nil
}

// Complete sets outtime, topic and staff name once.
func (r *PostgresRepository) Complete(ctx context.Context, id string, outTime time.Time, topic, staffName string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET outtime = $2, topic = $3, staff_name = $4
		WHERE id = $1 AND outtime IS NULL
	`, id, outTime, topic, staffName)
	if err != nil {
		return false, fmt.Errorf("complete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete record: %w", err)
	}
	return n == 1, nil
}

// Count returns the number of matching records.
func (r *PostgresRepository) Count(ctx context.Context, f RecordFilter) (int, error) {
	where, args := filterClauses(f)
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_records a`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// List returns matching records with the owner's name and email, newest first.
func (r *PostgresRepository) List(ctx context.Context, f RecordFilter, limit, offset int) ([]RecordView, error) {
	where, args := filterClauses(f)
	query := `
		SELECT a.id, a.student_id, a.intime, a.outtime, a.topic, a.staff_name, a.created_at,
		       COALESCE(u.name, ''), COALESCE(u.email, '')
		FROM attendance_records a
		LEFT JOIN users u ON u.id = a.student_id` + where + `
		ORDER BY a.created_at DESC, a.id DESC`
	if limit > 0 {
		if offset < 0 {
			offset = 0
		}
		query += " LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
		args = append(args, limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	res := []RecordView{}
	for rows.Next() {
		var v RecordView
		var out sql.NullTime
		var topic, staff sql.NullString
		if err := rows.Scan(&v.ID, &v.StudentID, &v.InTime, &out, &topic, &staff, &v.CreatedAt, &v.StudentName, &v.StudentEmail); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		applyNullable(&v.Record, out, topic, staff)
		res = append(res, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return res, nil
}

// filterClauses builds a WHERE clause with positional args for f.
func filterClauses(f RecordFilter) (string, []any) {
	args := []any{}
	clauses := []string{}
	if !f.From.IsZero() {
		clauses = append(clauses, "a.intime >= $"+itoa(len(args)+1))
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "a.intime < $"+itoa(len(args)+1))
		args = append(args, f.To)
	}
	if f.StaffName != "" {
		clauses = append(clauses, "a.staff_name = $"+itoa(len(args)+1))
		args = append(args, f.StaffName)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var out sql.NullTime
	var topic, staff sql.NullString
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.InTime, &out, &topic, &staff, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	applyNullable(&rec, out, topic, staff)
	return rec, nil
}

func applyNullable(rec *Record, out sql.NullTime, topic, staff sql.NullString) {
	if out.Valid {
		t := out.Time
		rec.OutTime = &t
	}
	if topic.Valid {
		s := topic.String
		rec.Topic = &s
	}
	if staff.Valid {
		s := staff.String
		rec.StaffName = &s
	}
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
