package repo

import (
	"context"
	"fmt"
	"strings"

	"dreamsense/internal/domain"
	"dreamsense/internal/infra"
	"dreamsense/internal/sqlinline"
)

// ProfileRepository reads the onboarding questionnaire from users.
type ProfileRepository struct {
	sql infra.SQLExecutor
}

func NewProfileRepository(sql infra.SQLExecutor) *ProfileRepository {
	return &ProfileRepository{sql: sql}
}

// Profile returns the questionnaire JSON, or "" when the user has none.
func (r *ProfileRepository) Profile(ctx context.Context, userID string) (string, error) {
	var profile string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectUserProfile, userID).Scan(&profile); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("user profile: %w", err)
	}
	profile = strings.TrimSpace(profile)
	if profile == "null" || profile == "{}" {
		return "", nil
	}
	return profile, nil
}

var _ domain.ProfileRepository = (*ProfileRepository)(nil)
