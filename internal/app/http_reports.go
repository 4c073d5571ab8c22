package app

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"safevoice/api/internal/blob"
	"safevoice/api/internal/search"
)

// routeReports handles /api/reports and everything below it.
func (s *HTTPServer) routeReports(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			reports, err := s.service.ListReports(r.Context(), session, r.URL.Query().Get("status"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
		case http.MethodPost:
			s.handleCreateReport(w, r, session)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 1 && parts[0] == "search" && r.Method == http.MethodGet {
		s.handleSearch(w, r, session)
		return
	}

	reportID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			report, err := s.service.GetReport(r.Context(), session, reportID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, report)
		case http.MethodPatch:
			var body struct {
				Status         string `json:"status"`
				ExpectedStatus string `json:"expected_status"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			report, err := s.service.TransitionStatus(r.Context(), session, reportID, body.Status, body.ExpectedStatus)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, report)
		case http.MethodDelete:
			if err := s.service.DeleteReport(r.Context(), session, reportID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": reportID})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case parts[1] == "cancel" && r.Method == http.MethodPost:
		report, err := s.service.CancelReport(r.Context(), session, reportID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)

	case parts[1] == "certificate" && r.Method == http.MethodGet:
		result, err := s.service.Certificate(r.Context(), session, reportID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	case parts[1] == "history" && r.Method == http.MethodGet:
		history, err := s.service.ReportHistory(r.Context(), session, reportID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": history})

	case parts[1] == "comments" && r.Method == http.MethodGet:
		comments, err := s.service.ListComments(r.Context(), session, reportID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": comments})

	case parts[1] == "comments" && r.Method == http.MethodPost:
		var body struct {
			Message    string `json:"message"`
			IsInternal bool   `json:"is_internal"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.PostComment(r.Context(), session, reportID, body.Message, body.IsInternal)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleCreateReport accepts multipart form data (with an optional "file"
// part) or a JSON body without attachment.
func (s *HTTPServer) handleCreateReport(w http.ResponseWriter, r *http.Request, session Session) {
	var input CreateReportInput
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		r.Body = http.MaxBytesReader(w, r.Body, blob.MaxAttachmentSize+(1<<20))
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()
		input.Title = r.FormValue("title")
		input.Category = r.FormValue("category")
		input.Description = r.FormValue("description")
		input.PriorityFlag = formBool(r.FormValue("priority_flag"))
		input.IsAnonymous = formBool(r.FormValue("is_anonymous"))

		file, header, err := r.FormFile("file")
		switch {
		case err == nil:
			defer file.Close()
			input.Attachment = &blob.Upload{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Body:        file,
			}
		case errors.Is(err, http.ErrMissingFile):
		default:
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid file part", nil)
			return
		}
	} else if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	report, err := s.service.CreateReport(r.Context(), session, input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload, err := s.service.SearchReports(r.Context(), session, search.Query{
		Text:     r.URL.Query().Get("q"),
		Status:   strings.TrimSpace(r.URL.Query().Get("status")),
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) routeNotifications(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		limit, err := queryInt(r, "limit", 50)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		feed, err := s.service.Notifications(r.Context(), session, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, feed)

	case len(parts) == 1 && parts[0] == "read-all" && r.Method == http.MethodPost:
		updated, err := s.service.MarkAllNotificationsRead(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updated": updated})

	case len(parts) == 2 && parts[1] == "read" && r.Method == http.MethodPost:
		if err := s.service.MarkNotificationRead(r.Context(), session, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) routeAccessRequests(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		requests, err := s.service.ListAccessRequests(r.Context(), session, r.URL.Query().Get("status"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": requests})

	case len(parts) == 0 && r.Method == http.MethodPost:
		var body AccessRequestInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		request, err := s.service.RequestAdminAccess(r.Context(), session, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, request)

	case len(parts) == 2 && parts[1] == "review" && r.Method == http.MethodPost:
		var body struct {
			Action string `json:"action"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		request, err := s.service.ReviewAccessRequest(r.Context(), session, parts[0], body.Action)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, request)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func formBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}
