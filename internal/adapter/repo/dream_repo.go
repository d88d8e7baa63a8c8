package repo

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"dreamsense/internal/domain"
	"dreamsense/internal/infra"
	"dreamsense/internal/sqlinline"
)

// DreamRepository implements domain.DreamRepository over the dreams table.
type DreamRepository struct {
	sql infra.SQLExecutor
}

func NewDreamRepository(sql infra.SQLExecutor) *DreamRepository {
	return &DreamRepository{sql: sql}
}

// CountByUser is the number of metered actions the user already consumed.
func (r *DreamRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.sql.QueryRow(ctx, sqlinline.QCountDreamsByUser, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dreams: %w", err)
	}
	return n, nil
}

// History returns up to limit of the user's most recent dreams, oldest first.
func (r *DreamRepository) History(ctx context.Context, userID string, limit int) ([]domain.Dream, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.sql.Query(ctx, sqlinline.QSelectDreamHistory, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("dream history: %w", err)
	}
	defer rows.Close()

	var dreams []domain.Dream
	for rows.Next() {
		d := domain.Dream{UserID: userID}
		if err := rows.Scan(&d.ID, &d.Description, &d.Response, &d.ImageURL, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dream: %w", err)
		}
		dreams = append(dreams, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dream history: %w", err)
	}
	slices.Reverse(dreams)
	return dreams, nil
}

// Insert persists one interaction and returns its id.
func (r *DreamRepository) Insert(ctx context.Context, dream domain.Dream) (string, error) {
	var id string
	var createdAt time.Time
	row := r.sql.QueryRow(ctx, sqlinline.QInsertDream, dream.UserID, dream.Description, dream.Response, dream.ImageURL)
	if err := row.Scan(&id, &createdAt); err != nil {
		return "", fmt.Errorf("insert dream: %w", err)
	}
	return id, nil
}

// FormatHistory renders dreams as dated lines for prompt context.
func FormatHistory(dreams []domain.Dream) string {
	var b strings.Builder
	for _, d := range dreams {
		desc := strings.TrimSpace(d.Description)
		if desc == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", d.CreatedAt.UTC().Format(time.DateOnly), desc)
	}
	return b.String()
}

var _ domain.DreamRepository = (*DreamRepository)(nil)
