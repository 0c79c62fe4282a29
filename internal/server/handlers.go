package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dgellow/traduwiki/internal/csrf"
	"github.com/dgellow/traduwiki/internal/handshake"
	jsonwriter "github.com/dgellow/traduwiki/internal/json"
	"github.com/dgellow/traduwiki/internal/log"
	"github.com/dgellow/traduwiki/internal/render"
	"github.com/dgellow/traduwiki/internal/response"
	"github.com/dgellow/traduwiki/internal/session"
)

// Handshaker runs the two legs of the sign-in handshake.
type Handshaker interface {
	Begin(ctx context.Context, provider, next string) handshake.Result
	Complete(ctx context.Context, provider string, cb handshake.Callback) handshake.Result
}

// Handlers serves the pages and the sign-in flow.
type Handlers struct {
	handshake       Handshaker
	sessions        *session.Manager
	csrf            *csrf.Manager
	renderer        *render.Renderer
	providers       []string
	defaultProvider string
	loginURL        string
}

// HandlersConfig lists the collaborators Handlers needs.
type HandlersConfig struct {
	Handshake       Handshaker
	Sessions        *session.Manager
	CSRF            *csrf.Manager
	Renderer        *render.Renderer
	Providers       []string
	DefaultProvider string
	LoginURL        string
}

// NewHandlers creates the handler set
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		handshake:       cfg.Handshake,
		sessions:        cfg.Sessions,
		csrf:            cfg.CSRF,
		renderer:        cfg.Renderer,
		providers:       cfg.Providers,
		defaultProvider: cfg.DefaultProvider,
		loginURL:        cfg.LoginURL,
	}
}

// page builds the common template data and the builder carrying the _xsrf
// cookie when one had to be issued.
func (h *Handlers) page(r *http.Request, title string) (render.Page, response.Builder, error) {
	token, rb, err := h.csrf.Token(r, response.New())
	if err != nil {
		return render.Page{}, rb, err
	}
	p := render.Page{
		Title:    title,
		XSRF:     csrf.HiddenField(token),
		LoginURL: h.loginURL,
	}
	if s, ok := session.FromContext(r.Context()); ok {
		p.Session = &s
	}
	return p, rb, nil
}

func (h *Handlers) renderPage(w http.ResponseWriter, name string, rb response.Builder, p render.Page) {
	rb.Apply(w)
	if err := h.renderer.Render(w, http.StatusOK, name, p); err != nil {
		log.LogErrorWithFields("server", "Failed to render page", map[string]any{
			"template": name,
			"error":    err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to render page")
	}
}

// Home renders the landing page
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	p, rb, err := h.page(r, "")
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Failed to issue CSRF token")
		return
	}
	h.renderPage(w, "home.html", rb, p)
}

// Login renders the provider list
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	next := handshake.SafeNext(r.URL.Query().Get("redirect"))
	if _, ok := session.FromContext(r.Context()); ok {
		if next == "" {
			next = "/"
		}
		http.Redirect(w, r, next, http.StatusFound)
		return
	}

	p, rb, err := h.page(r, "Sign in")
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Failed to issue CSRF token")
		return
	}
	p.Providers = h.providers
	p.Next = next
	p.Error = r.URL.Query().Get("error")
	h.renderPage(w, "login.html", rb, p)
}

// BeginDefault starts the handshake with the default provider
func (h *Handlers) BeginDefault(w http.ResponseWriter, r *http.Request) {
	h.begin(w, r, h.defaultProvider)
}

// Begin starts the handshake with the provider named in the path
func (h *Handlers) Begin(w http.ResponseWriter, r *http.Request) {
	h.begin(w, r, mux.Vars(r)["provider"])
}

func (h *Handlers) begin(w http.ResponseWriter, r *http.Request, provider string) {
	res := h.handshake.Begin(r.Context(), provider, r.URL.Query().Get("redirect"))
	res.Response.Write(w)
}

// Callback completes the handshake when the provider sends the user back
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	res := h.handshake.Complete(r.Context(), provider, handshake.CallbackFromRequest(r))
	res.Response.Write(w)
}

// Logout clears the session cookie
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if s, ok := session.FromContext(r.Context()); ok {
		log.LogInfoWithFields("server", "User signed out", map[string]any{"uid": s.UID})
	}
	response.New().WithCookie(h.sessions.Clear()).Redirect("/").Write(w)
}

// Me returns the current session as JSON
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Not signed in")
		return
	}
	if err := jsonwriter.Write(w, s); err != nil {
		log.LogErrorWithFields("server", "Failed to write session", map[string]any{"error": err.Error()})
	}
}
