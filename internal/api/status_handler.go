package api

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alecgard/teambeat/internal/checkin"
	"github.com/alecgard/teambeat/internal/team"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("pages").Funcs(template.FuncMap{
	"add1": func(i int) int { return i + 1 },
}).ParseFS(templateFS, "templates/*.html"))

// maxFormSize caps collection form bodies.
const maxFormSize = 64 << 10

// Collector resolves collection tokens and stores answers.
// *checkin.Handler implements it.
type Collector interface {
	Load(ctx context.Context, tok string) (*checkin.Draft, error)
	Save(ctx context.Context, d *checkin.Draft, raw map[string]string) (*team.Submission, error)
}

// statusHandler serves the token-gated check-in form.
type statusHandler struct {
	collector Collector
}

func newStatusHandler(c Collector) *statusHandler {
	return &statusHandler{collector: c}
}

type fieldView struct {
	Key     string
	Prompt  string
	Rating  bool
	Choices []string
	Value   string
	Error   string
}

type pageView struct {
	Title      string
	Action     string
	Token      string
	Next       string
	TeamName   string
	MemberName string
	ClosesAt   string
	Answered   bool
	MaxLength  int
	FormError  string
	Fields     []fieldView
}

func newPageView(d *checkin.Draft, tok, next string, values, errs map[string]string) pageView {
	v := pageView{
		Title:      d.Team.Name + " check-in",
		Action:     checkin.SavePath,
		Token:      tok,
		TeamName:   d.Team.Name,
		MemberName: d.Member.DisplayName(),
		ClosesAt:   d.Cycle.ClosesAt.In(d.Team.Location()).Format("Mon Jan 2, 3:04 PM MST"),
		Answered:   d.Submission.Answered(),
		MaxLength:  checkin.MaxTextLength,
		FormError:  errs[""],
	}
	if checkin.SafeNext(next) {
		v.Next = next
	}
	for _, f := range d.Form.Fields {
		q := f.Question()
		fv := fieldView{
			Key:    f.Key(),
			Prompt: q.Prompt,
			Rating: q.Kind == team.KindRating,
			Value:  values[f.Key()],
			Error:  errs[f.Key()],
		}
		if fv.Rating {
			fv.Choices = checkin.RatingChoices
		}
		v.Fields = append(v.Fields, fv)
	}
	return v
}

// Show handles GET /status/save: the form, prefilled with stored answers.
func (h *statusHandler) Show(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	d, err := h.collector.Load(r.Context(), tok)
	if err != nil {
		h.loadFailed(w, r, err)
		return
	}
	renderPage(w, http.StatusOK, "form.html", newPageView(d, tok, r.URL.Query().Get("next"), d.Values(), nil))
}

// Save handles POST /status/save. Invalid answers re-render the form with
// 422; success redirects to a safe next or shows the acknowledgement.
func (h *statusHandler) Save(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Could not read the submitted form.", http.StatusBadRequest)
		return
	}

	tok := r.PostForm.Get("token")
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	next := r.PostForm.Get("next")
	if next == "" {
		next = r.URL.Query().Get("next")
	}

	d, err := h.collector.Load(r.Context(), tok)
	if err != nil {
		h.loadFailed(w, r, err)
		return
	}

	raw := make(map[string]string, len(r.PostForm))
	for key, vals := range r.PostForm {
		if !strings.HasPrefix(key, "question") || len(vals) == 0 {
			continue
		}
		raw[key] = vals[0]
	}

	_, err = h.collector.Save(r.Context(), d, raw)
	var verr *checkin.ValidationError
	switch {
	case errors.As(err, &verr):
		renderPage(w, http.StatusUnprocessableEntity, "form.html", newPageView(d, tok, next, raw, verr.Fields))
		return
	case errors.Is(err, checkin.ErrNotFound):
		renderPage(w, http.StatusNotFound, "notfound.html", pageView{Title: "Link not available"})
		return
	case err != nil:
		slog.Error("saving answers failed", "submission_id", d.Submission.ID, "error", err, "request_id", RequestIDFromContext(r.Context()))
		http.Error(w, "Something went wrong saving your status. Please try again.", http.StatusInternalServerError)
		return
	}

	if checkin.SafeNext(next) {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	renderPage(w, http.StatusOK, "done.html", newPageView(d, tok, "", nil, nil))
}

func (h *statusHandler) loadFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, checkin.ErrNotFound) {
		renderPage(w, http.StatusNotFound, "notfound.html", pageView{Title: "Link not available"})
		return
	}
	slog.Error("loading submission failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
	http.Error(w, "Something went wrong. Please try again.", http.StatusInternalServerError)
}

// renderPage executes into a buffer first so a template error never leaves
// a half-written page behind a success status.
func renderPage(w http.ResponseWriter, status int, name string, data pageView) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("rendering page failed", "template", name, "error", err)
		http.Error(w, "Something went wrong. Please try again.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
