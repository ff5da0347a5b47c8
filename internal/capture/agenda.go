package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Defaults sized for a portrait agenda.
const (
	DefaultWidth   = 800
	DefaultHeight  = 1280
	DefaultTimeout = 30 * time.Second
)

// Options configures one agenda capture.
type Options struct {
	// BaseURL is the server root, e.g. "http://127.0.0.1:8080".
	BaseURL string
	// Days and Timezone are passed through to /agenda; zero values use the
	// server defaults.
	Days     int
	Timezone string

	// Username and Password are sent as HTTP Basic Auth when Username is set.
	Username string
	Password string

	OutputPath string

	Width   int
	Height  int
	Timeout time.Duration
}

func (o *Options) normalize() error {
	if o.BaseURL == "" {
		return errors.New("capture: base URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: output path is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// AgendaURL builds the /agenda URL for o.
func (o Options) AgendaURL() (string, error) {
	u, err := url.Parse(o.BaseURL)
	if err != nil {
		return "", fmt.Errorf("capture: bad base URL: %w", err)
	}
	u = u.JoinPath("agenda")
	q := u.Query()
	if o.Days > 0 {
		q.Set("days", strconv.Itoa(o.Days))
	}
	if o.Timezone != "" {
		q.Set("tz", o.Timezone)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// AgendaPNG renders /agenda in headless Chromium and writes a full-page PNG
// to opts.OutputPath. It waits for the page's [data-ready="true"] marker
// before taking the screenshot. The file is replaced atomically.
func AgendaPNG(parent context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}
	target, err := opts.AgendaURL()
	if err != nil {
		return err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	defer cancelAlloc()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, cancelTimeout := context.WithTimeout(ctx, opts.Timeout)
	defer cancelTimeout()

	var png []byte
	tasks := chromedp.Tasks{network.Enable()}
	if opts.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Authorization": "Basic " + cred,
		}))
	}
	tasks = append(tasks,
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(target),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	)

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	return writeFileAtomic(opts.OutputPath, png)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("capture: create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".agenda-*.png")
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("capture: write PNG: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("capture: write PNG: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
