package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
	domain "github.com/ahmethakanbesel/autobid/internal/job"
)

const timeFormat = "2006-01-02T15:04:05Z"

const jobColumns = `id, tenant_id, platform, external_id, url, title, description,
	budget_min, budget_max, posted_at, status, discovered_at, updated_at`

const bidColumns = `id, job_id, amount, proposal_text, confidence, status,
	failure_reason, created_at, clicked_at, submitted_at, responded_at, updated_at`

const activeBidStatuses = `('pending', 'submitted', 'viewed', 'responded')`

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// WithClock overrides the time source used for status timestamps.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

func (r *Repository) stamp() string {
	return r.now().UTC().Format(timeFormat)
}

func (r *Repository) IsKnown(ctx context.Context, tenantID, platform, externalID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM jobs
		WHERE tenant_id = ? AND platform = ? AND external_id = ?)`

	var known bool
	if err := r.db.QueryRowContext(ctx, query, tenantID, platform, externalID).Scan(&known); err != nil {
		return false, apperror.Repo("is known", err)
	}
	return known, nil
}

func (r *Repository) UpsertJob(ctx context.Context, j *domain.Job) (*domain.Job, bool, error) {
	const query = `INSERT INTO jobs (tenant_id, platform, external_id, url, title, description,
		budget_min, budget_max, posted_at, status, discovered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'discovered', ?, ?)
		ON CONFLICT (tenant_id, platform, external_id) DO NOTHING`

	if j.TenantID == "" || j.Platform == "" || j.ExternalID == "" {
		return nil, false, apperror.New(apperror.BadRequest, "job needs tenant, platform and external id")
	}

	now := r.stamp()
	res, err := r.db.ExecContext(ctx, query,
		j.TenantID, j.Platform, j.ExternalID, j.URL, j.Title, j.Description,
		nullDecimal(j.BudgetMin), nullDecimal(j.BudgetMax), nullTime(j.PostedAt),
		now, now,
	)
	if err != nil {
		return nil, false, apperror.Repo("upsert job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, apperror.Repo("upsert job: rows affected", err)
	}

	stored, err := r.getByKey(ctx, j.TenantID, j.Platform, j.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "job not found")
	}
	if err != nil {
		return nil, apperror.Repo("get job", err)
	}
	return j, nil
}

func (r *Repository) getByKey(ctx context.Context, tenantID, platform, externalID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE tenant_id = ? AND platform = ? AND external_id = ?`

	j, err := scanJob(r.db.QueryRowContext(ctx, query, tenantID, platform, externalID))
	if err != nil {
		return nil, apperror.Repo("get job by key", err)
	}
	return j, nil
}

func (r *Repository) List(ctx context.Context, f domain.ListFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`

	var args []any
	if f.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, f.TenantID)
	}
	if f.Platform != "" {
		query += " AND platform = ?"
		args = append(args, f.Platform)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperror.Repo("list jobs", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperror.Repo("scan job", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *Repository) HasActiveBid(ctx context.Context, jobID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM bids WHERE job_id = ? AND status IN ` + activeBidStatuses + `)`

	var active bool
	if err := r.db.QueryRowContext(ctx, query, jobID).Scan(&active); err != nil {
		return false, apperror.Repo("has active bid", err)
	}
	return active, nil
}

// RecordBid inserts a pending bid and moves its job to priced atomically. A
// job that already has an active bid yields apperror.ErrActiveBidExists; a job
// that is not in an eligible status yields apperror.ErrNotEligible.
func (r *Repository) RecordBid(ctx context.Context, jobID int64, b *domain.Bid) (int64, error) {
	if b.Status == "" {
		b.Status = domain.BidPending
	}
	if b.Status != domain.BidPending {
		return 0, apperror.New(apperror.BadRequest, "new bids must be pending")
	}
	if err := b.Validate(); err != nil {
		return 0, apperror.New(apperror.BadRequest, err.Error())
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperror.Repo("record bid: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperror.New(apperror.NotFound, "job not found")
	}
	if err != nil {
		return 0, apperror.Repo("record bid: load job", err)
	}

	var active bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bids WHERE job_id = ? AND status IN `+activeBidStatuses+`)`, jobID,
	).Scan(&active)
	if err != nil {
		return 0, apperror.Repo("record bid: check active", err)
	}
	if active {
		return 0, fmt.Errorf("record bid for job %d: %w", jobID, apperror.ErrActiveBidExists)
	}
	if !domain.Status(status).CanTransitionTo(domain.StatusPriced) {
		return 0, fmt.Errorf("record bid for job %d in status %s: %w", jobID, status, apperror.ErrNotEligible)
	}

	now := r.stamp()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO bids (job_id, amount, proposal_text, confidence, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobID, b.Amount.String(), b.ProposalText, b.Confidence, string(b.Status), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("record bid for job %d: %w", jobID, apperror.ErrActiveBidExists)
		}
		return 0, apperror.Repo("record bid: insert", err)
	}
	id, _ := res.LastInsertId()

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(domain.StatusPriced), now, jobID,
	); err != nil {
		return 0, apperror.Repo("record bid: update job", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperror.Repo("record bid: commit", err)
	}

	b.ID = id
	b.JobID = jobID
	b.CreatedAt, _ = time.Parse(timeFormat, now)
	b.UpdatedAt = b.CreatedAt
	return id, nil
}

// MarkClicked stamps a pending bid right before its form is submitted. A
// clicked bid that is still pending at startup was sent but never recorded.
func (r *Repository) MarkClicked(ctx context.Context, bidID int64) error {
	now := r.stamp()
	res, err := r.db.ExecContext(ctx,
		`UPDATE bids SET clicked_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		now, now, bidID,
	)
	if err != nil {
		return apperror.Repo("mark clicked", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperror.Repo("mark clicked: rows affected", err)
	}
	if n == 0 {
		return apperror.New(apperror.Conflict, fmt.Sprintf("bid %d is not pending", bidID))
	}
	return nil
}

func (r *Repository) MarkSubmitted(ctx context.Context, bidID int64) error {
	return r.transitionBid(ctx, bidID, domain.BidSubmitted, "")
}

// MarkSubmissionFailed fails the bid and returns its job to bid_failed, which
// is eligible for a fresh attempt on the next cycle.
func (r *Repository) MarkSubmissionFailed(ctx context.Context, bidID int64, reason string) error {
	return r.transitionBid(ctx, bidID, domain.BidFailed, reason)
}

func (r *Repository) UpdateBidStatus(ctx context.Context, bidID int64, status domain.BidStatus) error {
	if !status.Valid() {
		return apperror.New(apperror.BadRequest, "invalid bid status")
	}
	return r.transitionBid(ctx, bidID, status, "")
}

// jobStatusFor maps a bid status change to the job status it implies, if any.
func jobStatusFor(s domain.BidStatus) (domain.Status, bool) {
	switch s {
	case domain.BidSubmitted:
		return domain.StatusBidSubmitted, true
	case domain.BidFailed:
		return domain.StatusBidFailed, true
	case domain.BidWon:
		return domain.StatusWon, true
	case domain.BidLost:
		return domain.StatusLost, true
	}
	return "", false
}

func (r *Repository) transitionBid(ctx context.Context, bidID int64, next domain.BidStatus, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperror.Repo("transition bid: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var jobID int64
	var cur, jobStatus string
	err = tx.QueryRowContext(ctx,
		`SELECT b.job_id, b.status, j.status FROM bids b JOIN jobs j ON j.id = b.job_id WHERE b.id = ?`, bidID,
	).Scan(&jobID, &cur, &jobStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.New(apperror.NotFound, "bid not found")
	}
	if err != nil {
		return apperror.Repo("transition bid: load", err)
	}

	if !domain.BidStatus(cur).CanTransitionTo(next) {
		return apperror.New(apperror.Conflict, fmt.Sprintf("bid %d cannot move from %s to %s", bidID, cur, next))
	}
	nextJob, moveJob := jobStatusFor(next)
	if moveJob && !domain.Status(jobStatus).CanTransitionTo(nextJob) {
		return apperror.New(apperror.Conflict, fmt.Sprintf("job %d cannot move from %s to %s", jobID, jobStatus, nextJob))
	}

	now := r.stamp()
	var failure any
	if next == domain.BidFailed {
		failure = reason
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE bids SET status = ?,
			failure_reason = COALESCE(?, failure_reason),
			submitted_at = CASE WHEN ? = 'submitted' THEN ? ELSE submitted_at END,
			responded_at = CASE WHEN ? IN ('responded', 'won', 'lost') AND responded_at IS NULL THEN ? ELSE responded_at END,
			updated_at = ?
		WHERE id = ?`,
		string(next), failure, string(next), now, string(next), now, now, bidID,
	)
	if err != nil {
		return apperror.Repo("transition bid: update bid", err)
	}

	if moveJob {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
			string(nextJob), now, jobID,
		); err != nil {
			return apperror.Repo("transition bid: update job", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperror.Repo("transition bid: commit", err)
	}
	return nil
}

func (r *Repository) MarkSkipped(ctx context.Context, jobID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperror.Repo("mark skipped: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.New(apperror.NotFound, "job not found")
	}
	if err != nil {
		return apperror.Repo("mark skipped: load job", err)
	}
	if !domain.Status(status).CanTransitionTo(domain.StatusSkippedLowConfidence) {
		return fmt.Errorf("skip job %d in status %s: %w", jobID, status, apperror.ErrNotEligible)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(domain.StatusSkippedLowConfidence), r.stamp(), jobID,
	); err != nil {
		return apperror.Repo("mark skipped: update", err)
	}

	if err := tx.Commit(); err != nil {
		return apperror.Repo("mark skipped: commit", err)
	}
	return nil
}

func (r *Repository) GetBid(ctx context.Context, id int64) (*domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = ?`

	b, err := scanBid(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "bid not found")
	}
	if err != nil {
		return nil, apperror.Repo("get bid", err)
	}
	return b, nil
}

func (r *Repository) ListBids(ctx context.Context, jobID int64) ([]domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE job_id = ? ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, apperror.Repo("list bids", err)
	}
	defer func() { _ = rows.Close() }()

	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, apperror.Repo("scan bid", err)
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

func (r *Repository) CountSubmittedSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM bids b JOIN jobs j ON j.id = b.job_id
		WHERE j.tenant_id = ? AND b.submitted_at IS NOT NULL AND b.submitted_at >= ?`

	var n int
	if err := r.db.QueryRowContext(ctx, query, tenantID, since.UTC().Format(timeFormat)).Scan(&n); err != nil {
		return 0, apperror.Repo("count submitted", err)
	}
	return n, nil
}

// BidActivity returns every bid that reached the marketplace at or after since.
// An empty tenantID covers all tenants.
func (r *Repository) BidActivity(ctx context.Context, tenantID string, since time.Time) ([]domain.BidActivity, error) {
	const query = `SELECT j.platform, b.amount, b.status, b.submitted_at, b.responded_at
		FROM bids b JOIN jobs j ON j.id = b.job_id
		WHERE (? = '' OR j.tenant_id = ?)
		  AND b.submitted_at IS NOT NULL AND b.submitted_at >= ?
		ORDER BY b.submitted_at ASC`

	rows, err := r.db.QueryContext(ctx, query, tenantID, tenantID, since.UTC().Format(timeFormat))
	if err != nil {
		return nil, apperror.Repo("bid activity", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.BidActivity
	for rows.Next() {
		var a domain.BidActivity
		var amount, status, submitted string
		var responded sql.NullString
		if err := rows.Scan(&a.Platform, &amount, &status, &submitted, &responded); err != nil {
			return nil, apperror.Repo("scan bid activity", err)
		}
		a.Amount, _ = decimal.NewFromString(amount)
		a.Status = domain.BidStatus(status)
		a.SubmittedAt = parseTime(submitted)
		a.RespondedAt = parseNullTime(responded)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecoverInterrupted settles bids left pending by a previous run. A bid whose
// submit was clicked is taken as submitted at the click time; any other
// pending bid is failed and its job returns to bid_failed.
func (r *Repository) RecoverInterrupted(ctx context.Context) (domain.Recovery, error) {
	var rec domain.Recovery

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return rec, apperror.Repo("recover interrupted: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.stamp()
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'bid_submitted', updated_at = ?
		WHERE id IN (SELECT job_id FROM bids WHERE status = 'pending' AND clicked_at IS NOT NULL)`, now,
	); err != nil {
		return rec, apperror.Repo("recover interrupted: clicked jobs", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE bids SET status = 'submitted', submitted_at = clicked_at, updated_at = ?
		WHERE status = 'pending' AND clicked_at IS NOT NULL`, now,
	)
	if err != nil {
		return rec, apperror.Repo("recover interrupted: clicked bids", err)
	}
	if rec.Submitted, err = res.RowsAffected(); err != nil {
		return rec, apperror.Repo("recover interrupted: clicked bids", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'bid_failed', updated_at = ?
		WHERE id IN (SELECT job_id FROM bids WHERE status = 'pending')`, now,
	); err != nil {
		return rec, apperror.Repo("recover interrupted: jobs", err)
	}
	res, err = tx.ExecContext(ctx,
		`UPDATE bids SET status = 'failed', failure_reason = 'interrupted', updated_at = ?
		WHERE status = 'pending'`, now,
	)
	if err != nil {
		return rec, apperror.Repo("recover interrupted: bids", err)
	}
	if rec.Failed, err = res.RowsAffected(); err != nil {
		return rec, apperror.Repo("recover interrupted: bids", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Recovery{}, apperror.Repo("recover interrupted: commit", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (*domain.Job, error) {
	j := &domain.Job{}
	var status, discovered, updated string
	var budgetMin, budgetMax, posted sql.NullString

	if err := s.Scan(
		&j.ID, &j.TenantID, &j.Platform, &j.ExternalID, &j.URL, &j.Title, &j.Description,
		&budgetMin, &budgetMax, &posted, &status, &discovered, &updated,
	); err != nil {
		return nil, err
	}

	j.Status = domain.Status(status)
	if budgetMin.Valid {
		j.BudgetMin, _ = decimal.NewFromString(budgetMin.String)
	}
	if budgetMax.Valid {
		j.BudgetMax, _ = decimal.NewFromString(budgetMax.String)
	}
	if posted.Valid {
		j.PostedAt = parseTime(posted.String)
	}
	j.DiscoveredAt = parseTime(discovered)
	j.UpdatedAt = parseTime(updated)
	return j, nil
}

func scanBid(s rowScanner) (*domain.Bid, error) {
	b := &domain.Bid{}
	var amount, status, created, updated string
	var reason, clicked, submitted, responded sql.NullString

	if err := s.Scan(
		&b.ID, &b.JobID, &amount, &b.ProposalText, &b.Confidence, &status,
		&reason, &created, &clicked, &submitted, &responded, &updated,
	); err != nil {
		return nil, err
	}

	b.Amount, _ = decimal.NewFromString(amount)
	b.Status = domain.BidStatus(status)
	if reason.Valid {
		b.FailureReason = reason.String
	}
	b.CreatedAt = parseTime(created)
	b.ClickedAt = parseNullTime(clicked)
	b.SubmittedAt = parseNullTime(submitted)
	b.RespondedAt = parseNullTime(responded)
	b.UpdatedAt = parseTime(updated)
	return b, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullDecimal(d decimal.Decimal) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
