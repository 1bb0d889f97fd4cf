package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/geocoder89/progresshub/internal/domain/report"
	"github.com/geocoder89/progresshub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReportsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewReportsRepo(pool *pgxpool.Pool, prom *observability.Prom) *ReportsRepo {
	return &ReportsRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *ReportsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const reportColumns = `id, title, content, status, author_id, author_name, created_at, updated_at`

func (r *ReportsRepo) Create(ctx context.Context, rep report.Report) (report.Report, error) {
	err := r.observe("reports.create", func() error {
		_, e := r.pool.Exec(ctx,
			`INSERT INTO reports (`+reportColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			rep.ID, rep.Title, rep.Content, rep.Status, rep.AuthorID, rep.AuthorName, rep.CreatedAt, rep.UpdatedAt,
		)
		return e
	})

	if err != nil {
		return report.Report{}, err
	}

	return rep, nil
}

// List returns one page, newest first, plus the total matching the filter.
func (r *ReportsRepo) List(ctx context.Context, f report.ListFilter) ([]report.Report, int, error) {
	where := ""
	args := []any{}

	if f.Offset < 0 {
		f.Offset = 0
	}

	if f.Status != nil {
		where = ` WHERE status = $1`
		args = append(args, *f.Status)
	}

	var total int

	err := r.observe("reports.count", func() error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reports`+where, args...).Scan(&total)
	})
	if err != nil {
		return nil, 0, err
	}

	output := make([]report.Report, 0, f.Limit)

	err = r.observe("reports.list", func() error {
		n := len(args)
		query := `SELECT ` + reportColumns + ` FROM reports` + where +
			` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)

		rows, err := r.pool.Query(ctx, query, append(args, f.Limit, f.Offset)...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rep, err := scanReport(rows)
			if err != nil {
				return err
			}
			output = append(output, rep)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, 0, err
	}

	return output, total, nil
}

func (r *ReportsRepo) GetByID(ctx context.Context, id string) (report.Report, error) {
	var rep report.Report

	err := r.observe("reports.get_by_id", func() error {
		var e error
		rep, e = scanReport(r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return report.Report{}, report.ErrNotFound
		}
		return report.Report{}, err
	}

	return rep, nil
}

func (r *ReportsRepo) Update(ctx context.Context, id string, req report.UpdateReportRequest) (report.Report, error) {
	var rep report.Report

	var title *string
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		title = &t
	}

	err := r.observe("reports.update", func() error {
		var e error
		rep, e = scanReport(r.pool.QueryRow(ctx,
			`UPDATE reports
			SET title = COALESCE($2, title),
				content = COALESCE($3, content),
				status = COALESCE($4, status),
				updated_at = NOW()
			WHERE id = $1
			RETURNING `+reportColumns,
			id, title, req.Content, req.Status,
		))
		return e
	})

	if err != nil {
		// if there are no rows matching the id
		if errors.Is(err, pgx.ErrNoRows) {
			return report.Report{}, report.ErrNotFound
		}
		return report.Report{}, err
	}

	return rep, nil
}

func (r *ReportsRepo) Delete(ctx context.Context, id string) error {
	var affected int64

	err := r.observe("reports.delete", func() error {
		tag, e := r.pool.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
		affected = tag.RowsAffected()
		return e
	})

	if err != nil {
		return err
	}

	if affected == 0 {
		return report.ErrNotFound
	}

	return nil
}

func scanReport(row pgx.Row) (report.Report, error) {
	var rep report.Report

	err := row.Scan(
		&rep.ID,
		&rep.Title,
		&rep.Content,
		&rep.Status,
		&rep.AuthorID,
		&rep.AuthorName,
		&rep.CreatedAt,
		&rep.UpdatedAt,
	)

	return rep, err
}
