package handlers

import (
	"context"
	"errors"
	"net/http"
	"path"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dreamsense/internal/domain"
	"dreamsense/internal/entitlement"
	"dreamsense/internal/providers/dream"
	"dreamsense/internal/providers/image"
)

type sendDreamRequest struct {
	Query         string `json:"query"`
	PurchaseToken string `json:"purchase_token"`
}

type sendDreamResponse struct {
	Success          bool                 `json:"success"`
	Message          string               `json:"message"`
	Data             string               `json:"data"`
	ImageJSONProfile string               `json:"imageJsonProfile"`
	ImageURL         *string              `json:"image_url"`
	ImageFilename    *string              `json:"image_filename"`
	ID               string               `json:"id"`
	Subscription     entitlement.Response `json:"subscription"`
}

// denial is the body of a metered request refused by the entitlement check.
type denial struct {
	entitlement.Response
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

// deny writes the presented verdict of a refused metered request.
func (a *App) deny(w http.ResponseWriter, log *zerolog.Logger, v entitlement.Verdict) {
	presented := entitlement.Present(v)
	log.Info().Str("kind", v.Kind.String()).Msg("request denied")
	a.json(w, denialStatus(v), denial{Response: presented, Detail: presented.Message, Type: v.Kind.ErrorType()})
}

const promptMissingDetail = "Failed to retrieve prompt from database"

func (a *App) SendDream(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		return
	}
	var req sendDreamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.badRequest(w, err)
		return
	}
	query, err := requireField("query", req.Query)
	if err != nil {
		a.badRequest(w, err)
		return
	}
	log := a.requestLogger(r)

	v := a.entitlementFor(r, userID, cleanText(req.PurchaseToken))
	if !v.Entitled {
		a.deny(w, log, v)
		return
	}

	ctx := r.Context()
	prompt, err := a.prompts.Contents(ctx, domain.PromptTitleInterpretation)
	if err != nil {
		log.Error().Err(err).Msg("load interpretation prompt")
		a.error(w, http.StatusInternalServerError, "prompt_missing", promptMissingDetail)
		return
	}
	profile := a.profileFor(ctx, log, userID)

	result, err := a.interpreter.Generate(ctx, dream.GenerateRequest{Query: query, SystemPrompt: prompt, Context: profile})
	if err != nil {
		log.Error().Err(err).Msg("dream generation failed")
		a.error(w, http.StatusBadGateway, "provider_error", "Failed to generate response from agent")
		return
	}

	filename, url := a.renderDreamImage(ctx, log, userID, result.ImageProfile)

	id, err := a.dreams.Insert(ctx, domain.Dream{UserID: userID, Description: query, Response: result.Message, ImageURL: url})
	if err != nil {
		log.Error().Err(err).Msg("persist dream failed")
		a.error(w, http.StatusInternalServerError, "internal", "Failed to save dream")
		return
	}

	resp := sendDreamResponse{
		Success:          true,
		Message:          "Dream sent successfully",
		Data:             result.Message,
		ImageJSONProfile: result.ImageProfile,
		ID:               id,
		Subscription:     entitlement.Present(v),
	}
	if url != "" {
		resp.ImageURL = &url
		resp.ImageFilename = &filename
	}
	log.Info().Str("dream_id", id).Str("kind", v.Kind.String()).Bool("image", url != "").Msg("dream sent")
	a.json(w, http.StatusOK, resp)
}

// profileFor returns the questionnaire profile, or "" when it cannot be read.
func (a *App) profileFor(ctx context.Context, log *zerolog.Logger, userID string) string {
	if a.profiles == nil {
		return ""
	}
	profile, err := a.profiles.Profile(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("load user profile")
		return ""
	}
	return profile
}

// renderDreamImage is best effort: any failure is logged and yields no image.
func (a *App) renderDreamImage(ctx context.Context, log *zerolog.Logger, userID, imageProfile string) (filename, url string) {
	if a.images == nil || a.store == nil {
		return "", ""
	}
	imagePrompt, err := a.prompts.Contents(ctx, domain.PromptTitleImage)
	if err != nil && !errors.Is(err, domain.ErrPromptMissing) {
		log.Warn().Err(err).Msg("load image prompt")
	}
	filename, url, err = a.storeImage(ctx, userID, image.BuildPrompt(imagePrompt, imageProfile))
	if err != nil {
		log.Warn().Err(err).Msg("dream image skipped")
		return "", ""
	}
	return filename, url
}

// storeImage renders prompt, uploads it and returns its key and signed URL.
func (a *App) storeImage(ctx context.Context, userID, prompt string) (string, string, error) {
	data, err := a.images.Generate(ctx, prompt)
	if err != nil {
		return "", "", err
	}
	key := path.Join("dreams", userID, uuid.NewString()+".png")
	key, err = a.store.Put(ctx, key, data, "image/png")
	if err != nil {
		return "", "", err
	}
	url, err := a.store.SignedURL(ctx, key, a.signedURLTTL)
	if err != nil {
		return "", "", err
	}
	return key, url, nil
}
