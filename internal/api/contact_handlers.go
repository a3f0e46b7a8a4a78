package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialcore/dialcore/internal/database/models"
)

// contactResponse is the JSON shape for a contact.
type contactResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Number    string `json:"number"`
	Label     string `json:"label,omitempty"`
	Starred   bool   `json:"starred"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toContactResponse(c *models.Contact) contactResponse {
	return contactResponse{
		ID:        c.ID,
		Name:      c.Name,
		Number:    c.Number,
		Label:     c.Label,
		Starred:   c.Starred,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

// contactRequest is the body of POST /contacts and PUT /contacts/{id}.
type contactRequest struct {
	Name    string `json:"name"`
	Number  string `json:"number"`
	Label   string `json:"label"`
	Starred bool   `json:"starred"`
}

func (req *contactRequest) validate() string {
	for _, check := range []string{
		validateRequiredStringLen("name", req.Name, maxNameLen),
		validateNoControlChars("name", req.Name),
		validateRequiredStringLen("number", req.Number, maxDialStringLen),
		validateNoControlChars("number", req.Number),
		validateContactLabel("label", req.Label),
	} {
		if check != "" {
			return check
		}
	}
	return ""
}

// handleListContacts returns all contacts ordered by name.
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.contacts.List(r.Context())
	if err != nil {
		slog.Error("list contacts: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]contactResponse, len(contacts))
	for i := range contacts {
		items[i] = toContactResponse(&contacts[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateContact adds a contact.
func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := req.validate(); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	c := &models.Contact{
		Name:    req.Name,
		Number:  req.Number,
		Label:   req.Label,
		Starred: req.Starred,
	}
	if err := s.contacts.Create(r.Context(), c); err != nil {
		slog.Error("create contact: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.contacts.GetByID(r.Context(), c.ID)
	if err != nil || created == nil {
		slog.Error("create contact: failed to read back", "error", err, "contact_id", c.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toContactResponse(created))
}

// handleGetContact returns a single contact by ID.
func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	c, err := s.contacts.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get contact: failed to query", "error", err, "contact_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}

	writeJSON(w, http.StatusOK, toContactResponse(c))
}

// handleUpdateContact replaces a contact's fields.
func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	var req contactRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := req.validate(); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	c, err := s.contacts.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("update contact: failed to query", "error", err, "contact_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}

	c.Name = req.Name
	c.Number = req.Number
	c.Label = req.Label
	c.Starred = req.Starred
	if err := s.contacts.Update(r.Context(), c); err != nil {
		slog.Error("update contact: failed to update", "error", err, "contact_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.contacts.GetByID(r.Context(), id)
	if err != nil || updated == nil {
		slog.Error("update contact: failed to read back", "error", err, "contact_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toContactResponse(updated))
}

// handleDeleteContact removes a contact.
func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	c, err := s.contacts.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("delete contact: failed to query", "error", err, "contact_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}

	if err := s.contacts.Delete(r.Context(), id); err != nil {
		slog.Error("delete contact: failed to delete", "error", err, "contact_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
