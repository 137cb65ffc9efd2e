package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/auth"
	"ecocredit.org/internal/pipeline"
)

// submitRequest is the JSON form of a submission. Evidence is base64 encoded.
type submitRequest struct {
	AccountID   string           `json:"accountId"`
	Category    action.Category  `json:"category"`
	Description string           `json:"description"`
	EvidenceRef string           `json:"evidenceRef"`
	Evidence    []byte           `json:"evidence"`
	EnergySaved *float64         `json:"energySaved"`
	GeoLocation *action.GeoPoint `json:"geoLocation"`
}

func (a *API) submitAction(w http.ResponseWriter, r *http.Request) {
	sub, err := readSubmission(r)
	if err != nil {
		writeErrorBody(w, r, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation_error"})
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	if sub.AccountID == "" {
		sub.AccountID = principal.UserID
	}
	if !canActFor(r, sub.AccountID) {
		writeError(w, r, http.StatusForbidden, "cannot submit for another account")
		return
	}

	out, err := a.deps.Pipeline.Submit(r.Context(), sub)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/actions/"+out.Action.ID)
	writeJSON(w, http.StatusCreated, out)
}

// readSubmission accepts multipart/form-data with an "evidence" file part,
// or a JSON body.
func readSubmission(r *http.Request) (pipeline.Submission, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "multipart/form-data" {
		var req submitRequest
		if err := decodeJSON(r, &req); err != nil {
			return pipeline.Submission{}, err
		}
		return pipeline.Submission{
			AccountID:   strings.TrimSpace(req.AccountID),
			Category:    req.Category,
			Description: req.Description,
			EvidenceRef: req.EvidenceRef,
			Evidence:    req.Evidence,
			EnergySaved: req.EnergySaved,
			Location:    req.GeoLocation,
		}, nil
	}

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return pipeline.Submission{}, errors.New("request body too large")
		}
		return pipeline.Submission{}, errors.New("malformed multipart form")
	}
	sub := pipeline.Submission{
		AccountID:   strings.TrimSpace(r.FormValue("accountId")),
		Category:    action.Category(strings.TrimSpace(r.FormValue("category"))),
		Description: r.FormValue("description"),
		EvidenceRef: strings.TrimSpace(r.FormValue("evidenceRef")),
	}
	if v := strings.TrimSpace(r.FormValue("energySaved")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return pipeline.Submission{}, errors.New("energySaved must be a number")
		}
		sub.EnergySaved = &f
	}
	lat, lon := strings.TrimSpace(r.FormValue("latitude")), strings.TrimSpace(r.FormValue("longitude"))
	if lat != "" || lon != "" {
		la, err1 := strconv.ParseFloat(lat, 64)
		lo, err2 := strconv.ParseFloat(lon, 64)
		if err1 != nil || err2 != nil {
			return pipeline.Submission{}, errors.New("latitude and longitude must be numbers")
		}
		sub.Location = action.NewGeoPoint(la, lo)
	}
	file, _, err := r.FormFile("evidence")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return pipeline.Submission{}, errors.New("read evidence upload")
		}
		sub.Evidence = data
	case !errors.Is(err, http.ErrMissingFile):
		return pipeline.Submission{}, errors.New("read evidence upload")
	}
	return sub, nil
}

func (a *API) getAction(w http.ResponseWriter, r *http.Request) {
	act, err := a.deps.Actions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !canActFor(r, act.AccountID) {
		// do not reveal other accounts' actions
		writeError(w, r, http.StatusNotFound, action.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, act)
}

type reviewRequest struct {
	Approve *bool `json:"approve"`
}

func (a *API) listPending(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items := []action.Action{}
	for act, err := range a.deps.Review.ListPending(r.Context()) {
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		items = append(items, act)
		if len(items) >= limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) reviewAction(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Approve == nil {
		writeErrorBody(w, r, http.StatusBadRequest, errorBody{Error: "approve is required", Field: "approve"})
		return
	}
	act, err := a.deps.Review.Review(r.Context(), chi.URLParam(r, "id"), *req.Approve)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}
