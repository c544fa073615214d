package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"authorsapi/internal/metrics"
	"authorsapi/internal/util"
	"authorsapi/pkg/domain"
	"authorsapi/services/catalog/internal/app"
)

const (
	apiPrefix    = "/api/v1"
	maxJSONBytes = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	ServiceName    string
	AllowedOrigins []string
	// MaxImageBytes bounds cover uploads; the multipart envelope gets a little extra.
	MaxImageBytes int64
}

// Server exposes the catalog HTTP API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	service        string
	allowedOrigins []string
	maxImageBytes  int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "catalog"
	}
	maxImageBytes := cfg.MaxImageBytes
	if maxImageBytes <= 0 {
		maxImageBytes = 5 << 20
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		service:        service,
		allowedOrigins: cfg.AllowedOrigins,
		maxImageBytes:  maxImageBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = util.WithRequestLog(s.service, s.mux)
	h = metrics.Middleware(s.routeOf, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithCORS(s.allowedOrigins, h)
	h = util.WithRequestID(h)
	return otelhttp.NewHandler(h, s.service, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		return r.Method + " " + s.routeOf(r)
	}))
}

func (s *Server) routeOf(r *http.Request) string {
	_, pattern := s.mux.Handler(r)
	return pattern
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	// auth
	s.mux.HandleFunc("POST "+apiPrefix+"/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST "+apiPrefix+"/auth/login", s.handleLogin)
	s.mux.Handle("POST "+apiPrefix+"/auth/logout", s.withUser(s.handleLogout))
	s.mux.Handle("GET "+apiPrefix+"/auth/me", s.withUser(s.handleMe))

	// books
	s.mux.Handle("POST "+apiPrefix+"/books/create", s.withUser(s.handleCreateBook))
	s.mux.Handle("GET "+apiPrefix+"/books/{$}", s.withUser(s.handleListBooks))
	s.mux.Handle("GET "+apiPrefix+"/books/book/{id}", s.withUser(s.handleGetBook))
	s.mux.Handle("PUT "+apiPrefix+"/books/edit/{id}", s.withUser(s.handleUpdateBook))
	s.mux.Handle("PATCH "+apiPrefix+"/books/edit/{id}", s.withUser(s.handleUpdateBook))
	s.mux.Handle("DELETE "+apiPrefix+"/books/delete/{id}", s.withUser(s.handleDeleteBook))
	s.mux.Handle("PUT "+apiPrefix+"/books/image/{id}", s.withUser(s.handleUploadBookImage))
	s.mux.Handle("GET "+apiPrefix+"/books/image/{id}", s.withUser(s.handleBookImage))

	// companies
	s.mux.Handle("POST "+apiPrefix+"/companies/create", s.withUser(s.handleCreateCompany))
	s.mux.Handle("GET "+apiPrefix+"/companies/{$}", s.withUser(s.handleListCompanies))
	s.mux.Handle("GET "+apiPrefix+"/companies/company/{id}", s.withUser(s.handleGetCompany))
	s.mux.Handle("PUT "+apiPrefix+"/companies/edit/{id}", s.withUser(s.handleUpdateCompany))
	s.mux.Handle("PATCH "+apiPrefix+"/companies/edit/{id}", s.withUser(s.handleUpdateCompany))
	s.mux.Handle("DELETE "+apiPrefix+"/companies/delete/{id}", s.withUser(s.handleDeleteCompany))

	// users
	s.mux.Handle("GET "+apiPrefix+"/users/{$}", s.withUser(s.handleListUsers))
	s.mux.Handle("GET "+apiPrefix+"/users/authors", s.withUser(s.handleListAuthors))
	s.mux.Handle("GET "+apiPrefix+"/users/search", s.withUser(s.handleSearchAuthors))
	s.mux.Handle("GET "+apiPrefix+"/users/user/{id}", s.withUser(s.handleGetUser))
	s.mux.Handle("PUT "+apiPrefix+"/users/edit/{id}", s.withUser(s.handleUpdateUser))
	s.mux.Handle("PATCH "+apiPrefix+"/users/edit/{id}", s.withUser(s.handleUpdateUser))
	s.mux.Handle("DELETE "+apiPrefix+"/users/delete/{id}", s.withUser(s.handleDeleteUser))

	// audit
	s.mux.Handle("GET "+apiPrefix+"/deletions", s.withUser(s.handleRecentDeletions))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Ping(ctx); err != nil {
		util.LoggerFromContext(r.Context()).Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeAppError(w, r, app.ErrUnauthenticated)
			return
		}
		user, err := s.app.UserFromToken(r.Context(), token)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		util.AnnotateRequest(r.Context(), "user_id", user.ID)
		next(w, r, user)
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req app.RegisterInput
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.Register(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":      fmt.Sprintf("%s has been created successfully as an %s", user.FullName(), user.Role),
		"user":         bareUser(user),
		"access_token": token,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Login successful",
		"user":         bareUser(user),
		"access_token": token,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ domain.User) {
	token, _ := bearerToken(r)
	if err := s.app.Logout(r.Context(), token); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	profile, err := s.app.GetProfile(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User details retrieved successfully", "user": toUserView(profile)})
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req app.BookInput
	if !decodeJSON(w, r, &req) {
		return
	}
	book, err := s.app.CreateBook(r.Context(), user, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": book.Book.Title + " has been created successfully",
		"book":    toBookView(book),
	})
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request, _ domain.User) {
	books, err := s.app.ListBooks(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	items := make([]bookView, 0, len(books))
	for _, b := range books {
		items = append(items, toBookView(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "All books retrieved successfully",
		"total":   len(items),
		"books":   items,
	})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	book, err := s.app.GetBook(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Book details retrieved successfully", "book": toBookView(book)})
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req bookPatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	book, err := s.app.UpdateBook(r.Context(), user, r.PathValue("id"), req.patch())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": book.Book.Title + "'s details have been successfully updated",
		"book":    toBookView(book),
	})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	rec, err := s.app.DeleteBook(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Book deleted successfully", "deletion": toDeletionView(rec)})
}

func (s *Server) handleUploadBookImage(w http.ResponseWriter, r *http.Request, user domain.User) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxImageBytes+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	book, err := s.app.SetBookImage(r.Context(), user, r.PathValue("id"), header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Book image updated", "book": toBookFields(book)})
}

func (s *Server) handleBookImage(w http.ResponseWriter, r *http.Request, _ domain.User) {
	url, err := s.app.BookImageURL(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Book image retrieved successfully", "url": url})
}

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req app.CompanyInput
	if !decodeJSON(w, r, &req) {
		return
	}
	company, err := s.app.CreateCompany(r.Context(), user, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": company.Company.Name + " has been created successfully",
		"company": toCompanyView(company),
	})
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request, _ domain.User) {
	companies, err := s.app.ListCompanies(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	items := make([]companyView, 0, len(companies))
	for _, c := range companies {
		items = append(items, toCompanyView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "All companies retrieved successfully",
		"total":     len(items),
		"companies": items,
	})
}

func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request, _ domain.User) {
	company, err := s.app.GetCompany(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Company details retrieved successfully", "company": toCompanyView(company)})
}

func (s *Server) handleUpdateCompany(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req companyPatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	company, err := s.app.UpdateCompany(r.Context(), user, r.PathValue("id"), req.patch())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": company.Company.Name + "'s details have been successfully updated",
		"company": toCompanyView(company),
	})
}

func (s *Server) handleDeleteCompany(w http.ResponseWriter, r *http.Request, user domain.User) {
	rec, err := s.app.DeleteCompany(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Company deleted successfully", "deletion": toDeletionView(rec)})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	profiles, err := s.app.ListUsers(r.Context())
	writeProfiles(w, r, profiles, err, "All users retrieved successfully")
}

func (s *Server) handleListAuthors(w http.ResponseWriter, r *http.Request, _ domain.User) {
	profiles, err := s.app.ListAuthors(r.Context())
	writeProfiles(w, r, profiles, err, "All authors retrieved successfully")
}

func (s *Server) handleSearchAuthors(w http.ResponseWriter, r *http.Request, _ domain.User) {
	profiles, err := s.app.SearchAuthors(r.Context(), r.URL.Query().Get("query"))
	msg := "Authors retrieved successfully"
	if err == nil && len(profiles) == 0 {
		msg = "No results found"
	}
	writeProfiles(w, r, profiles, err, msg)
}

func writeProfiles(w http.ResponseWriter, r *http.Request, profiles []app.Profile, err error, msg string) {
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	items := make([]userView, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, toUserView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg, "total": len(items), "users": items})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, _ domain.User) {
	profile, err := s.app.GetProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User details retrieved successfully", "user": toUserView(profile)})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req userPatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.app.UpdateUser(r.Context(), user, r.PathValue("id"), req.patch())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": updated.FullName() + "'s details have been successfully updated",
		"user":    bareUser(updated),
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, user domain.User) {
	rec, err := s.app.DeleteUser(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User deleted successfully", "deletion": toDeletionView(rec)})
}

func (s *Server) handleRecentDeletions(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	recs, err := s.app.RecentDeletions(r.Context(), user, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	items := make([]deletionView, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toDeletionView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Deletions retrieved successfully", "total": len(items), "deletions": items})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

// writeAppError maps an app error kind to its HTTP status.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForKind(app.KindOf(err))
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
	}
	writeError(w, status, app.MessageOf(err))
}

func statusForKind(k app.Kind) int {
	switch k {
	case app.KindBadRequest:
		return http.StatusBadRequest
	case app.KindUnauthorized:
		return http.StatusUnauthorized
	case app.KindForbidden:
		return http.StatusForbidden
	case app.KindNotFound:
		return http.StatusNotFound
	case app.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
