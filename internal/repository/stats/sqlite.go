package stats

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
	domain "github.com/ahmethakanbesel/autobid/internal/stats"
)

const timeFormat = "2006-01-02T15:04:05Z"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertDaily writes rows in batches, replacing any existing row for the same
// tenant, platform and date.
func (r *Repository) UpsertDaily(ctx context.Context, rows []domain.Daily) error {
	if len(rows) == 0 {
		return nil
	}

	const batchSize = 200
	now := time.Now().UTC().Format(timeFormat)

	for i := 0; i < len(rows); i += batchSize {
		batch := rows[i:min(i+batchSize, len(rows))]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*8)
		for j, d := range batch {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?)"
			args = append(args, d.TenantID, d.Platform, d.Date, d.BidsSubmitted, d.Wins,
				d.TotalRevenue.String(), d.AvgResponseSecs, now)
		}

		query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
			`INSERT INTO daily_stats (tenant_id, platform, date, bids_submitted, wins,
				total_revenue, avg_response_secs, updated_at)
			VALUES %s
			ON CONFLICT (tenant_id, platform, date) DO UPDATE SET
				bids_submitted = excluded.bids_submitted,
				wins = excluded.wins,
				total_revenue = excluded.total_revenue,
				avg_response_secs = excluded.avg_response_secs,
				updated_at = excluded.updated_at`,
			strings.Join(placeholders, ", "),
		)

		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return apperror.Repo("upsert daily stats", err)
		}
	}
	return nil
}

// ListDaily returns rows on or after fromDate (YYYY-MM-DD). An empty tenantID
// covers all tenants.
func (r *Repository) ListDaily(ctx context.Context, tenantID, fromDate string) ([]domain.Daily, error) {
	const query = `SELECT tenant_id, platform, date, bids_submitted, wins, total_revenue, avg_response_secs
		FROM daily_stats
		WHERE (? = '' OR tenant_id = ?) AND date >= ?
		ORDER BY date ASC, tenant_id ASC, platform ASC`

	rows, err := r.db.QueryContext(ctx, query, tenantID, tenantID, fromDate)
	if err != nil {
		return nil, apperror.Repo("list daily stats", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Daily
	for rows.Next() {
		var d domain.Daily
		var revenue string
		if err := rows.Scan(&d.TenantID, &d.Platform, &d.Date, &d.BidsSubmitted, &d.Wins,
			&revenue, &d.AvgResponseSecs); err != nil {
			return nil, apperror.Repo("scan daily stats", err)
		}
		d.TotalRevenue, _ = decimal.NewFromString(revenue)
		out = append(out, d)
	}
	return out, rows.Err()
}
