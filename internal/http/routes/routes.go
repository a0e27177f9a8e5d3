package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/acctcache/internal/apierror"
	"github.com/briangreenhill/acctcache/internal/credentials"
	appmw "github.com/briangreenhill/acctcache/internal/http/middleware"
	"github.com/briangreenhill/acctcache/internal/users"
	"github.com/briangreenhill/acctcache/internal/verify"
	"github.com/briangreenhill/acctcache/plugins"
)

const sessionEmail = "email"

// Checker verifies a password, answering from its cache when it can.
type Checker interface {
	Check(ctx context.Context, identity, secret string) error
}

// Resolver serves derived credential fields.
type Resolver interface {
	Resolve(ctx context.Context, email string) (users.User, error)
	Accounts(ctx context.Context) ([]string, error)
	Forget(email string)
}

// StatusReader serves account status without waiting on the remote service.
type StatusReader interface {
	Get(ctx context.Context, account string) ([]plugins.DataPoint, bool, error)
}

type Server struct {
	Router *chi.Mux
	Sess   *scs.SessionManager
	Creds  credentials.Store
	Check  Checker
	Users  Resolver
	Status StatusReader
}

type ServerOptions struct {
	Sess   *scs.SessionManager
	Creds  credentials.Store
	Check  Checker
	Users  Resolver
	Status StatusReader
	Logger zerolog.Logger
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(chimw.RealIP)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("took", d).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	s := &Server{Router: r, Sess: opts.Sess, Creds: opts.Creds, Check: opts.Check, Users: opts.Users, Status: opts.Status}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})

	r.Group(func(sr chi.Router) {
		sr.Use(s.sessionToContext)
		sr.Post("/session", s.handleSignIn)
		sr.Delete("/session", s.handleSignOut)
		sr.Get("/accounts", s.handleAccounts)
		sr.Get("/accounts/{account}/status", s.handleAccountStatus)

		sr.Group(func(pr chi.Router) {
			pr.Use(appmw.RequireAuth)
			pr.Get("/me", s.handleMe)
		})
	})

	return s
}

func (s *Server) sessionToContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if email := s.Sess.GetString(r.Context(), sessionEmail); email != "" {
			r = r.WithContext(context.WithValue(r.Context(), appmw.UserKey, email))
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, apierror.ErrorMessage{Message: msg})
}

// writeRemoteError maps a remote failure onto a status code. Application
// errors carry the remote's message back to the caller.
func writeRemoteError(w http.ResponseWriter, r *http.Request, err error) {
	switch apierror.Classify(err) {
	case apierror.KindApplication:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(apierror.EncodeError(err))
	case apierror.KindConnectivity:
		writeError(w, r, http.StatusServiceUnavailable, "remote service unreachable")
	case apierror.KindTimeout:
		writeError(w, r, http.StatusGatewayTimeout, "remote service timed out")
	default:
		hlog.FromRequest(r).Warn().Err(err).Msg("remote call failed")
		writeError(w, r, http.StatusBadGateway, "remote service error")
	}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var in signInRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad json")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad form")
			return
		}
		in.Email, in.Password = r.FormValue("email"), r.FormValue("password")
	}
	in.Email = credentials.Normalize(in.Email)

	if err := s.Check.Check(r.Context(), in.Email, in.Password); err != nil {
		if errors.Is(err, verify.ErrMissingCredential) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeRemoteError(w, r, err)
		return
	}

	prev, err := s.Creds.Get(r.Context(), in.Email)
	switch {
	case errors.Is(err, credentials.ErrNotFound):
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("load credential")
		writeError(w, r, http.StatusInternalServerError, "could not load credential")
		return
	}
	if prev.Password != in.Password {
		if err := s.Creds.Put(r.Context(), credentials.Credential{
			Email:         in.Email,
			Password:      in.Password,
			AccountAPIKey: prev.AccountAPIKey,
		}); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("save credential")
			writeError(w, r, http.StatusInternalServerError, "could not save credential")
			return
		}
		s.Users.Forget(in.Email)
	}

	if err := s.Sess.RenewToken(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, "session error")
		return
	}
	s.Sess.Put(r.Context(), sessionEmail, in.Email)
	writeJSON(w, r, http.StatusOK, map[string]string{"email": in.Email})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.Sess.Destroy(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, "session error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	names, err := s.Users.Accounts(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list accounts")
		writeError(w, r, http.StatusInternalServerError, "could not list accounts")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string][]string{"accounts": names})
}

func (s *Server) handleAccountStatus(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	points, ok, err := s.Status.Get(r.Context(), account)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("account", account).Msg("account status")
		writeError(w, r, http.StatusInternalServerError, "could not load status")
		return
	}
	if !ok {
		writeJSON(w, r, http.StatusAccepted, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, points)
}

type accountView struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type meView struct {
	Email       string        `json:"email"`
	UID         string        `json:"uid,omitempty"`
	Username    string        `json:"username,omitempty"`
	DisplayName string        `json:"displayName,omitempty"`
	Accounts    []accountView `json:"accounts"`
	Complete    bool          `json:"complete"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.Users.Resolve(r.Context(), appmw.Email(r))
	if errors.Is(err, credentials.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "no credential for this user")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("resolve user")
		writeError(w, r, http.StatusInternalServerError, "could not resolve user")
		return
	}
	view := meView{
		Email:       u.Email,
		UID:         u.UID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Accounts:    make([]accountView, 0, len(u.Accounts)),
		Complete:    u.Complete(),
	}
	for _, a := range u.Accounts {
		view.Accounts = append(view.Accounts, accountView{Name: a.Name, DisplayName: a.DisplayName()})
	}
	writeJSON(w, r, http.StatusOK, view)
}
