package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/greatbit/quack/cmd/quack/session"
	"github.com/greatbit/quack/cmd/quack/testcase"
	"github.com/greatbit/quack/cmd/quack/types"
	"github.com/rs/zerolog"
)

// multipart parts above this size are spooled to disk
const multipartMemory = 8 << 20

type Router struct {
	service        *testcase.TestCaseService
	sessions       session.Provider
	maxUploadBytes int64
	log            zerolog.Logger
}

func NewRouter(service *testcase.TestCaseService, sessions session.Provider, maxUploadBytes int64, log zerolog.Logger) *Router {
	return &Router{
		service:        service,
		sessions:       sessions,
		maxUploadBytes: maxUploadBytes,
		log:            log.With().Str("component", "api").Logger(),
	}
}

func (rt *Router) SetupRoutes() http.Handler {
	r := mux.NewRouter().UseEncodedPath().SkipClean(true)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	tc := r.PathPrefix("/{projectId}/testcase").Subrouter()
	tc.Use(rt.requireSession)

	// fixed segments first so they are never taken for a test case id
	tc.HandleFunc("/tree", withSession(rt.handleTree)).Methods(http.MethodGet)
	tc.HandleFunc("/count", withSession(rt.handleCount)).Methods(http.MethodGet)
	tc.HandleFunc("", withSession(rt.handleFind)).Methods(http.MethodGet)
	tc.HandleFunc("", withSession(rt.handleCreate)).Methods(http.MethodPost)
	tc.HandleFunc("", withSession(rt.handleUpdate)).Methods(http.MethodPut)

	tc.HandleFunc("/attachment/{testcaseId}", withSession(rt.handleUpload)).Methods(http.MethodPost)
	tc.HandleFunc("/attachment/{testcaseId}/{attachmentId}", withSession(rt.handleDownload)).Methods(http.MethodGet)
	tc.HandleFunc("/attachment/{testcaseId}/{attachmentId}", withSession(rt.handleDeleteAttachment)).Methods(http.MethodDelete)

	tc.HandleFunc("/issue/suggest", withSession(rt.handleSuggestIssue)).Methods(http.MethodGet)
	tc.HandleFunc("/issue/{testcaseId}", withSession(rt.handleCreateIssue)).Methods(http.MethodPost)
	tc.HandleFunc("/issue/{testcaseId}/link-id/{issueId}", withSession(rt.handleLinkIssueByID)).Methods(http.MethodPost)
	tc.HandleFunc("/issue/{testcaseId}/link-url/{url:.+}", withSession(rt.handleLinkIssueByURL)).Methods(http.MethodPost)
	tc.HandleFunc("/issue/{testcaseId}/{issueId}", withSession(rt.handleUnlinkIssue)).Methods(http.MethodDelete)

	tc.HandleFunc("/{id}", withSession(rt.handleFindByID)).Methods(http.MethodGet)
	tc.HandleFunc("/{id}", withSession(rt.handleDelete)).Methods(http.MethodDelete)

	var handler http.Handler = r
	handler = middleware.Recoverer(handler)
	handler = requestLogger(rt.log)(handler)
	handler = middleware.RealIP(handler)
	handler = middleware.RequestID(handler)
	return handler
}

func (rt *Router) handleTree(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	filter, err := types.ParseTestcaseFilter(r.URL.Query())
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	tree, err := rt.service.FindFilteredTree(r.Context(), sess, pathVar(r, "projectId"), filter)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, tree)
}

func (rt *Router) handleFind(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	filter, err := types.ParseFilter(r.URL.Query())
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	testCases, err := rt.service.FindFiltered(r.Context(), sess, pathVar(r, "projectId"), filter)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, testCases)
}

func (rt *Router) handleCount(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	filter, err := types.ParseFilter(r.URL.Query())
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	count, err := rt.service.Count(r.Context(), sess, pathVar(r, "projectId"), filter)
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, count)
}

func (rt *Router) handleFindByID(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	tc, err := rt.service.FindByID(r.Context(), sess, pathVar(r, "projectId"), pathVar(r, "id"))
	rt.respondWithTestCase(w, r, tc, err)
}

func (rt *Router) handleCreate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var body types.TestCase
	if err := decodeBody(r, &body); err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	tc, err := rt.service.Create(r.Context(), sess, pathVar(r, "projectId"), body)
	rt.respondWithTestCase(w, r, tc, err)
}

func (rt *Router) handleUpdate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var body types.TestCase
	if err := decodeBody(r, &body); err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	tc, err := rt.service.Update(r.Context(), sess, pathVar(r, "projectId"), body)
	rt.respondWithTestCase(w, r, tc, err)
}

func (rt *Router) handleDelete(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := rt.service.Delete(r.Context(), sess, pathVar(r, "projectId"), pathVar(r, "id")); err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handleUpload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if rt.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		rt.respondWithError(w, r, fmt.Errorf("%w: invalid multipart body: %w", testcase.ErrValidation, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			err = fmt.Errorf("%w: file part is required", testcase.ErrValidation)
		}
		rt.respondWithError(w, r, err)
		return
	}
	defer file.Close()

	if raw := r.FormValue("size"); raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || size < 0 {
			rt.respondWithError(w, r, fmt.Errorf("%w: invalid size %q", testcase.ErrValidation, raw))
			return
		}
		if size != header.Size {
			rt.log.Warn().
				Int64("declared", size).
				Int64("received", header.Size).
				Str("file", header.Filename).
				Msg("Declared attachment size differs from received data")
		}
	}

	tc, err := rt.service.UploadAttachment(r.Context(), sess, pathVar(r, "projectId"), pathVar(r, "testcaseId"), header.Filename, file)
	rt.respondWithTestCase(w, r, tc, err)
}

func (rt *Router) handleDownload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	projectID, testcaseID := pathVar(r, "projectId"), pathVar(r, "testcaseId")

	attachment, err := rt.service.GetAttachment(r.Context(), sess, projectID, testcaseID, pathVar(r, "attachmentId"))
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	stream, err := rt.service.GetAttachmentStream(r.Context(), sess, projectID, testcaseID, attachment)
	if err != nil {
		rt.log.Error().Err(err).Stack().Str("attachment", attachment.ID).Msg("Failed to open attachment")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": attachment.Title}))
	if attachment.DataSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(attachment.DataSize, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, stream); err != nil {
		rt.log.Warn().Err(err).Str("attachment", attachment.ID).Msg("Attachment download interrupted")
	}
}

func (rt *Router) handleDeleteAttachment(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	tc, err := rt.service.DeleteAttachment(r.Context(), sess, pathVar(r, "projectId"), pathVar(r, "testcaseId"), pathVar(r, "attachmentId"))
	rt.respondWithTestCase(w, r, tc, err)
}

func (rt *Router) handleCreateIssue(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var issue types.Issue
	if err := decodeBody(r, &issue); err != nil {
		rt.respondWithError(w, r, err)
		return
	}

	tc, err := rt.service.CreateIssue(r.Context(), sess, pathVar(r, "projectId"), pathVar(r, "testcaseId"), issue)
	rt.respondWithTestCase(w, r, tc, err)
}

func (rt *Router) handleLinkIssueByID(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	tc, err := rt.service.LinkIssueByID(r.Context(), sess, pathVar(r, "projectId"), pathVar(r, "testcaseId"), pathVar(r, "issueId"))
	rt.respondWithTestCase(w, r, tc, err)
}

func (rt *Router) handleLinkIssueByURL(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	tc, err := rt.service.LinkIssueByURL(r.Context(), sess, pathVar(r, "projectId"), pathVar(r, "testcaseId"), pathVar(r, "url"))
	rt.respondWithTestCase(w, r, tc, err)
}

func (rt *Router) handleUnlinkIssue(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	tc, err := rt.service.UnlinkIssue(r.Context(), sess, pathVar(r, "projectId"), pathVar(r, "testcaseId"), pathVar(r, "issueId"))
	rt.respondWithTestCase(w, r, tc, err)
}

func (rt *Router) handleSuggestIssue(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	issues, err := rt.service.SuggestIssue(r.Context(), sess, pathVar(r, "projectId"), r.URL.Query().Get("text"))
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	if issues == nil {
		issues = []types.Issue{}
	}
	respondWithJSON(w, http.StatusOK, issues)
}

// Helper functions

func (rt *Router) respondWithTestCase(w http.ResponseWriter, r *http.Request, tc *types.TestCase, err error) {
	if err != nil {
		rt.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, tc)
}

func (rt *Router) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, issue := classifyError(err)
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		rt.log.Error().
			Err(err).
			Stack().
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request failed")
	} else {
		rt.log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	respondWithIssue(w, status, issue)
}

func respondWithIssue(w http.ResponseWriter, status int, issues ...OperationIssue) {
	respondWithJSON(w, status, OperationOutcome{Issues: issues})
}

func respondWithJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// pathVar returns the decoded value of a route variable
func pathVar(r *http.Request, name string) string {
	raw := mux.Vars(r)[name]
	if value, err := url.PathUnescape(raw); err == nil {
		return value
	}
	return raw
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", testcase.ErrValidation, err)
	}
	return nil
}
