package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
	"github.com/artempl88/sozdaibota-sub000/internal/repository"
)

// sessionRow is the storage shape of models.Session
type sessionRow struct {
	ID                  string        `db:"id"`
	Version             int64         `db:"version"`
	Flow                string        `db:"flow"`
	Profile             []byte        `db:"profile"`
	Turns               []byte        `db:"turns"`
	LeadScore           float64       `db:"lead_score"`
	ReviewStatus        string        `db:"review_status"`
	EstimateSent        bool          `db:"estimate_sent"`
	EstimateSentAt      sql.NullTime  `db:"estimate_sent_at"`
	EstimatePayload     []byte        `db:"estimate_payload"`
	EstimateApproved    bool          `db:"estimate_approved"`
	EstimateApprovedAt  sql.NullTime  `db:"estimate_approved_at"`
	ApprovedEstimateRef string        `db:"approved_estimate_ref"`
	DeliveredToClient   bool          `db:"delivered_to_client"`
	DeliveredAt         sql.NullTime  `db:"delivered_at"`
	CreatedAt           time.Time     `db:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at"`
	ExpectedVersion     sql.NullInt64 `db:"expected_version"`
}

const sessionColumns = `id, version, flow, profile, turns, lead_score, review_status,
	estimate_sent, estimate_sent_at, estimate_payload, estimate_approved, estimate_approved_at,
	approved_estimate_ref, delivered_to_client, delivered_at, created_at, updated_at`

// SessionRepository implements repository.SessionRepository using PostgreSQL
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session at version 1
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.Version = 1

	row, err := toRow(session)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (:id, :version, :flow, :profile, :turns, :lead_score, :review_status,
			:estimate_sent, :estimate_sent_at, :estimate_payload, :estimate_approved, :estimate_approved_at,
			:approved_estimate_ref, :delivered_to_client, :delivered_at, :created_at, :updated_at)
	`

	_, err = r.db.NamedExecContext(ctx, query, row)
	return err
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	var row sessionRow
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return fromRow(&row)
}

// Update writes the session guarded by its version
func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	expected := session.Version
	updated := session.Clone()
	updated.Version = expected + 1
	updated.UpdatedAt = time.Now().UTC()

	row, err := toRow(updated)
	if err != nil {
		return err
	}
	row.ExpectedVersion = sql.NullInt64{Int64: expected, Valid: true}

	query := `
		UPDATE sessions SET
			version = :version,
			flow = :flow,
			profile = :profile,
			turns = :turns,
			lead_score = :lead_score,
			review_status = :review_status,
			estimate_sent = :estimate_sent,
			estimate_sent_at = :estimate_sent_at,
			estimate_payload = :estimate_payload,
			estimate_approved = :estimate_approved,
			estimate_approved_at = :estimate_approved_at,
			approved_estimate_ref = :approved_estimate_ref,
			delivered_to_client = :delivered_to_client,
			delivered_at = :delivered_at,
			updated_at = :updated_at
		WHERE id = :id AND version = :expected_version
	`

	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, session.ID); err != nil {
			return err
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrVersionConflict
	}

	session.Version = updated.Version
	session.UpdatedAt = updated.UpdatedAt
	return nil
}

func toRow(s *models.Session) (*sessionRow, error) {
	profile, err := json.Marshal(s.Profile)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	turns := s.Turns
	if turns == nil {
		turns = []models.Turn{}
	}
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("marshal turns: %w", err)
	}
	var payload []byte
	if s.EstimatePayload != nil {
		if payload, err = json.Marshal(s.EstimatePayload); err != nil {
			return nil, fmt.Errorf("marshal estimate: %w", err)
		}
	}

	status := s.ReviewStatus
	if status == "" {
		status = models.ReviewNone
	}

	return &sessionRow{
		ID:                  s.ID,
		Version:             s.Version,
		Flow:                string(s.Flow),
		Profile:             profile,
		Turns:               turnsJSON,
		LeadScore:           s.LeadScore,
		ReviewStatus:        string(status),
		EstimateSent:        s.EstimateSent,
		EstimateSentAt:      nullTime(s.EstimateSentAt),
		EstimatePayload:     payload,
		EstimateApproved:    s.EstimateApproved,
		EstimateApprovedAt:  nullTime(s.EstimateApprovedAt),
		ApprovedEstimateRef: s.ApprovedEstimateRef,
		DeliveredToClient:   s.DeliveredToClient,
		DeliveredAt:         nullTime(s.DeliveredAt),
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}, nil
}

func fromRow(row *sessionRow) (*models.Session, error) {
	s := &models.Session{
		ID:                  row.ID,
		Version:             row.Version,
		Flow:                models.Flow(row.Flow),
		LeadScore:           row.LeadScore,
		ReviewStatus:        models.ReviewStatus(row.ReviewStatus),
		EstimateSent:        row.EstimateSent,
		EstimateSentAt:      timePtr(row.EstimateSentAt),
		EstimateApproved:    row.EstimateApproved,
		EstimateApprovedAt:  timePtr(row.EstimateApprovedAt),
		ApprovedEstimateRef: row.ApprovedEstimateRef,
		DeliveredToClient:   row.DeliveredToClient,
		DeliveredAt:         timePtr(row.DeliveredAt),
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
	if len(row.Profile) > 0 {
		if err := json.Unmarshal(row.Profile, &s.Profile); err != nil {
			return nil, fmt.Errorf("unmarshal profile: %w", err)
		}
	}
	if len(row.Turns) > 0 {
		if err := json.Unmarshal(row.Turns, &s.Turns); err != nil {
			return nil, fmt.Errorf("unmarshal turns: %w", err)
		}
	}
	if len(row.EstimatePayload) > 0 {
		var est models.Estimate
		if err := json.Unmarshal(row.EstimatePayload, &est); err != nil {
			return nil, fmt.Errorf("unmarshal estimate: %w", err)
		}
		s.EstimatePayload = &est
	}
	return s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
