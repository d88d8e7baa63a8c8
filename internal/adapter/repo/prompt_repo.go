package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dreamsense/internal/domain"
	"dreamsense/internal/infra"
	"dreamsense/internal/sqlinline"
)

// PromptRepository stores the system prompts kept in daily_read by title.
type PromptRepository struct {
	sql infra.SQLExecutor
}

func NewPromptRepository(sql infra.SQLExecutor) *PromptRepository {
	return &PromptRepository{sql: sql}
}

// Contents returns the prompt stored under title. A missing or blank row is
// domain.ErrPromptMissing.
func (r *PromptRepository) Contents(ctx context.Context, title string) (string, error) {
	var contents string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectPromptContents, title).Scan(&contents); err != nil {
		if infra.IsNoRows(err) {
			return "", fmt.Errorf("%w: %s", domain.ErrPromptMissing, title)
		}
		return "", fmt.Errorf("prompt %s: %w", title, err)
	}
	contents = strings.TrimSpace(contents)
	if contents == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrPromptMissing, title)
	}
	return contents, nil
}

// SetContents replaces the prompt stored under title, creating the row when
// there is none.
func (r *PromptRepository) SetContents(ctx context.Context, title, contents string) error {
	title = strings.TrimSpace(title)
	contents = strings.TrimSpace(contents)
	if title == "" || contents == "" {
		return errors.New("prompt title and contents are required")
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdatePromptContents, title, contents)
	if err != nil {
		return fmt.Errorf("update prompt %s: %w", title, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QInsertPromptContents, title, contents); err != nil {
		return fmt.Errorf("insert prompt %s: %w", title, err)
	}
	return nil
}

var _ domain.PromptRepository = (*PromptRepository)(nil)
