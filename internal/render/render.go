// Package render serves HTML pages from html/template, either from the
// templates embedded in the binary or from a directory that can be watched
// for changes during development.
package render

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dgellow/traduwiki/internal/log"
	"github.com/dgellow/traduwiki/internal/session"
)

//go:embed templates/*.html
var embedded embed.FS

const reloadDelay = 500 * time.Millisecond

// Page is the data every template receives.
type Page struct {
	Title     string
	Session   *session.Session
	XSRF      template.HTML
	LoginURL  string
	Providers []string
	Next      string
	Error     string
}

// Renderer executes named templates. Safe for concurrent use; templates can
// be swapped underneath by Reload.
type Renderer struct {
	dir       string
	templates atomic.Pointer[template.Template]
}

// New loads the embedded templates, or dir when it is not empty.
func New(dir string) (*Renderer, error) {
	r := &Renderer{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Renderer) source() fs.FS {
	if r.dir != "" {
		return os.DirFS(r.dir)
	}
	sub, _ := fs.Sub(embedded, "templates")
	return sub
}

// Reload parses the templates again. On error the previous set stays live.
func (r *Renderer) Reload() error {
	t, err := template.ParseFS(r.source(), "*.html")
	if err != nil {
		return fmt.Errorf("parsing templates: %w", err)
	}
	r.templates.Store(t)
	return nil
}

// Render executes name into w. Output is buffered so a failing template never
// sends a partial page.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data Page) error {
	var buf bytes.Buffer
	if err := r.templates.Load().ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("rendering %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// Watch reloads the templates whenever the directory changes, until ctx is
// done. Bursts of events are coalesced into a single reload.
func (r *Renderer) Watch(ctx context.Context) error {
	if r.dir == "" {
		return fmt.Errorf("watching requires a template directory")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return err
	}

	go r.watch(ctx, watcher)
	return nil
}

func (r *Renderer) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Reset(reloadDelay)
			} else {
				timer = time.NewTimer(reloadDelay)
				fire = timer.C
			}
		case <-fire:
			timer, fire = nil, nil
			if err := r.Reload(); err != nil {
				log.LogErrorWithFields("render", "Template reload failed, keeping previous templates", map[string]any{
					"dir":   r.dir,
					"error": err.Error(),
				})
				continue
			}
			log.LogInfoWithFields("render", "Reloaded templates", map[string]any{"dir": r.dir})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.LogWarnWithFields("render", "Template watcher error", map[string]any{"error": err.Error()})
		}
	}
}
