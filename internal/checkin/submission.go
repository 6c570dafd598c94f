package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alecgard/teambeat/internal/metrics"
	"github.com/alecgard/teambeat/internal/team"
	"github.com/alecgard/teambeat/internal/token"
)

// Record is a submission loaded with its cycle and owner.
type Record struct {
	Submission team.Submission
	Member     team.Member
	Cycle      team.Cycle
}

// SubmissionRepository loads and updates submissions. *Store implements it.
type SubmissionRepository interface {
	GetSubmission(ctx context.Context, id string) (*Record, error)
	SaveAnswers(ctx context.Context, id string, answers team.Answers) (*team.Submission, error)
}

// TeamGetter loads a team by id. *team.Store implements it.
type TeamGetter interface {
	GetByID(ctx context.Context, id string) (*team.Team, error)
}

// Draft is everything needed to render or accept a collection form.
type Draft struct {
	Record
	Team *team.Team
	Form *Form
}

// Values returns the stored answers as raw form values, for prefilling.
func (d *Draft) Values() map[string]string {
	out := make(map[string]string, len(d.Submission.Answers))
	for k, a := range d.Submission.Answers {
		out[k] = a.String()
	}
	return out
}

// Handler resolves collection tokens and stores answers.
type Handler struct {
	submissions SubmissionRepository
	teams       TeamGetter
	codec       *token.Codec[token.SubmissionClaims]
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewHandler creates a submission Handler.
func NewHandler(submissions SubmissionRepository, teams TeamGetter, codec *token.Codec[token.SubmissionClaims], m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{submissions: submissions, teams: teams, codec: codec, metrics: m, logger: logger}
}

// Load verifies tok and returns the draft it grants access to. Every
// failure short of an internal error is reported as ErrNotFound so
// callers cannot tell a forged token from a closed cycle.
func (h *Handler) Load(ctx context.Context, tok string) (*Draft, error) {
	claims, err := h.codec.Verify(tok)
	if err != nil {
		reason := token.Reason(err)
		h.metrics.IncTokenRejection(reason)
		h.logger.Info("collection token rejected", "reason", reason)
		return nil, ErrNotFound
	}

	rec, err := h.submissions.GetSubmission(ctx, claims.SubmissionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.logger.Info("collection token for unknown submission", "submission_id", claims.SubmissionID)
		}
		return nil, err
	}
	if !rec.Submission.Active || !rec.Member.Active {
		h.logger.Info("collection token for inactive submission",
			"submission_id", rec.Submission.ID,
			"member_id", rec.Member.ID,
		)
		return nil, ErrNotFound
	}

	t, err := h.teams.GetByID(ctx, rec.Cycle.TeamID)
	if err != nil {
		if errors.Is(err, team.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading team: %w", err)
	}
	return &Draft{Record: *rec, Team: t, Form: NewForm(t.Questions)}, nil
}

// Save validates raw against the draft's form and stores the answers. The
// first save must answer every question; later saves may update a subset.
// A *ValidationError is returned for rejected input.
func (h *Handler) Save(ctx context.Context, d *Draft, raw map[string]string) (*team.Submission, error) {
	answers, err := d.Form.Validate(raw, !d.Submission.Answered())
	if err != nil {
		h.metrics.IncSubmission("invalid")
		return nil, err
	}

	sub, err := h.submissions.SaveAnswers(ctx, d.Submission.ID, answers)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Closed between load and save.
			h.metrics.IncSubmission("closed")
			return nil, ErrNotFound
		}
		return nil, err
	}
	h.metrics.IncSubmission("stored")
	h.logger.Info("answers stored",
		"submission_id", sub.ID,
		"cycle_id", sub.CycleID,
		"member_id", d.Member.ID,
		"fields", len(answers),
	)
	d.Submission = *sub
	return sub, nil
}

// Submit loads the draft for tok and saves raw in one step.
func (h *Handler) Submit(ctx context.Context, tok string, raw map[string]string) (*team.Submission, error) {
	d, err := h.Load(ctx, tok)
	if err != nil {
		return nil, err
	}
	return h.Save(ctx, d, raw)
}
