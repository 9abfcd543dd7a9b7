package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lcudriver/lcu-driver/internal/theme"
	"github.com/lcudriver/lcu-driver/pkg/lcu"
	"github.com/tidwall/gjson"
)

const maxBodyLen = 400

// printer writes one styled line per event. Handlers run concurrently, so
// writes are serialized.
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	path string
	now  func() time.Time
}

func newPrinter(w io.Writer, path string) *printer {
	return &printer{w: w, path: path, now: time.Now}
}

func (p *printer) line(tag, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s %s\n", theme.Dim.Render(p.now().Format("15:04:05.000")), tag, body)
}

func (p *printer) lifecycle(name lcu.EventName) lcu.LifecycleHandler {
	return func(_ context.Context, conn *lcu.Connection) error {
		body := fmt.Sprintf("pid %d %s", conn.PID(), conn.Address())
		if name == lcu.EventOpen && conn.InstallPath() != "" {
			body += " " + theme.Dim.Render(conn.InstallPath())
		}
		p.line(theme.Tag(strings.ToUpper(string(name)), theme.LifecycleColor(string(name))), body)
		return nil
	}
}

func (p *printer) event(_ context.Context, conn *lcu.Connection, ev lcu.Event) error {
	p.line(theme.Tag(string(ev.Type), theme.EventTypeColor(string(ev.Type))),
		fmt.Sprintf("pid %d %s %s", conn.PID(), ev.URI, p.render(ev.Data)))
	return nil
}

// get returns a ready handler printing the response to GET endpoint.
func (p *printer) get(endpoint string) lcu.LifecycleHandler {
	return func(ctx context.Context, conn *lcu.Connection) error {
		resp, err := conn.Request(ctx, http.MethodGet, endpoint, nil, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading %s: %w", endpoint, err)
		}
		p.line(theme.Tag(fmt.Sprint(resp.StatusCode), theme.ColorAccent),
			fmt.Sprintf("pid %d GET %s %s", conn.PID(), endpoint, p.render(data)))
		return nil
	}
}

// render compacts JSON data, applies the configured gjson path and caps
// the length.
func (p *printer) render(data []byte) string {
	if !gjson.ValidBytes(data) {
		return truncate(strings.TrimSpace(string(data)))
	}
	res := gjson.ParseBytes(data)
	if p.path != "" {
		res = res.Get(p.path)
		if !res.Exists() {
			return theme.Dim.Render("(no " + p.path + ")")
		}
	}
	return truncate(res.Get("@ugly").Raw)
}

func truncate(s string) string {
	if len(s) <= maxBodyLen {
		return s
	}
	return s[:maxBodyLen] + "…"
}
