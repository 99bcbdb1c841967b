package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/herald/internal/metrics"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/template"
)

// TemplateRequest is the body of template create and save. Code comes
// from the URL on save.
type TemplateRequest struct {
	Code        string                  `json:"code"`
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Subject     template.Translations   `json:"subject,omitempty"`
	BodyHTML    template.Translations   `json:"body_html,omitempty"`
	BodyText    template.Translations   `json:"body_text,omitempty"`
	Channels    []notify.Channel        `json:"channels" validate:"required,min=1"`
	Variables   []template.VariableInfo `json:"variables,omitempty"`
	Conditions  map[string]any          `json:"conditions,omitempty"`
	PreviewData map[string]any          `json:"preview_data,omitempty"`
	IsActive    *bool                   `json:"is_active,omitempty"`
	ChangeNotes string                  `json:"change_notes,omitempty"`
	Actor       string                  `json:"actor,omitempty"`
}

func (req *TemplateRequest) template(code string) *template.Template {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &template.Template{
		Code:        code,
		Name:        req.Name,
		Description: req.Description,
		Subject:     req.Subject,
		BodyHTML:    req.BodyHTML,
		BodyText:    req.BodyText,
		Channels:    req.Channels,
		Variables:   req.Variables,
		Conditions:  req.Conditions,
		PreviewData: req.PreviewData,
		IsActive:    active,
	}
}

// TemplateResponse wraps a template with authoring warnings
type TemplateResponse struct {
	*template.Template
	UndeclaredVariables []string `json:"undeclared_variables,omitempty"`
}

// SaveResponse is the response for PUT /templates/{code}
type SaveResponse struct {
	Template *TemplateResponse `json:"template"`
	// Version is the snapshot of the previous content, absent when only
	// metadata changed
	Version *template.Version `json:"version,omitempty"`
}

// TemplateListResponse is the response for listing templates
type TemplateListResponse struct {
	Templates []*template.Template `json:"templates"`
	Total     int                  `json:"total"`
}

// PreviewRequest is the request for previewing a template
type PreviewRequest struct {
	Data   map[string]any `json:"data,omitempty"`
	Locale string         `json:"locale,omitempty"`
}

// PreviewResponse is the rendered preview
type PreviewResponse struct {
	*template.RenderResult
	Version          int      `json:"version"`
	MissingVariables []string `json:"missing_variables,omitempty"`
}

// VersionListResponse is the response for listing versions
type VersionListResponse struct {
	Versions []*template.Version `json:"versions"`
	Total    int                 `json:"total"`
}

// RestoreRequest is the optional body of a restore
type RestoreRequest struct {
	Actor string `json:"actor,omitempty"`
}

func (s *Server) templateResponse(tmpl *template.Template) *TemplateResponse {
	return &TemplateResponse{Template: tmpl, UndeclaredVariables: s.engine.UndeclaredVariables(tmpl)}
}

// handleListTemplates handles GET /api/v1/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := template.ListFilter{Search: q.Get("search")}
	filter.Limit, filter.Offset = pagination(r, 100)

	if c := q.Get("channel"); c != "" {
		channel, err := notify.ParseChannel(c)
		if err != nil {
			s.writeError(w, err)
			return
		}
		filter.Channel = channel
	}
	if v, err := strconv.ParseBool(q.Get("active")); err == nil {
		filter.ActiveOnly = v
	}
	if v, err := strconv.ParseBool(q.Get("deleted")); err == nil {
		filter.IncludeDeleted = v
	}

	templates, err := s.templates.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if templates == nil {
		templates = []*template.Template{}
	}

	s.sendJSON(w, http.StatusOK, TemplateListResponse{Templates: templates, Total: len(templates)})
}

// handleCreateTemplate handles POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	tmpl := req.template(req.Code)
	if err := s.templates.Create(r.Context(), tmpl, actor(r, req.Actor)); err != nil {
		s.writeError(w, err)
		return
	}
	metrics.IncTemplateWrite("create")

	s.logger.Info("template created", "code", tmpl.Code, "id", tmpl.ID)
	s.sendJSON(w, http.StatusCreated, s.templateResponse(tmpl))
}

// handleGetTemplate handles GET /api/v1/templates/{code}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.templates.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.templateResponse(tmpl))
}

// handleSaveTemplate handles PUT /api/v1/templates/{code}
func (s *Server) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	tmpl := req.template(chi.URLParam(r, "code"))
	saved, version, err := s.templates.Save(r.Context(), tmpl, req.ChangeNotes, actor(r, req.Actor))
	if err != nil {
		s.writeError(w, err)
		return
	}
	metrics.IncTemplateWrite("save")

	s.logger.Info("template saved", "code", saved.Code, "version", saved.Version, "new_version", version != nil)
	s.sendJSON(w, http.StatusOK, SaveResponse{Template: s.templateResponse(saved), Version: version})
}

// handleDeleteTemplate handles DELETE /api/v1/templates/{code}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := s.templates.Delete(r.Context(), code, actor(r, "")); err != nil {
		s.writeError(w, err)
		return
	}
	metrics.IncTemplateWrite("delete")

	s.logger.Info("template deleted", "code", code)
	w.WriteHeader(http.StatusNoContent)
}

// handlePreviewTemplate handles POST /api/v1/templates/{code}/preview
func (s *Server) handlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if r.ContentLength != 0 {
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
	}

	tmpl, err := s.templates.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	data := template.MergeData(tmpl.PreviewData, req.Data)
	s.sendJSON(w, http.StatusOK, PreviewResponse{
		RenderResult:     s.engine.Preview(tmpl, req.Data, req.Locale),
		Version:          tmpl.Version,
		MissingVariables: s.engine.MissingVariables(tmpl, data),
	})
}

// handleListVersions handles GET /api/v1/templates/{code}/versions
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.templates.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	versions, err := s.templates.ListVersions(r.Context(), tmpl.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if versions == nil {
		versions = []*template.Version{}
	}
	s.sendJSON(w, http.StatusOK, VersionListResponse{Versions: versions, Total: len(versions)})
}

// handleGetVersion handles GET /api/v1/versions/{id}
func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.templates.GetVersion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, v)
}

// handleRestoreVersion handles POST /api/v1/versions/{id}/restore
func (s *Server) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if r.ContentLength != 0 {
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
	}

	id := chi.URLParam(r, "id")
	tmpl, err := s.templates.Restore(r.Context(), id, actor(r, req.Actor))
	if err != nil {
		s.writeError(w, err)
		return
	}
	metrics.IncTemplateWrite("restore")

	s.logger.Info("template restored", "code", tmpl.Code, "from_version", id, "version", tmpl.Version)
	s.sendJSON(w, http.StatusOK, s.templateResponse(tmpl))
}
