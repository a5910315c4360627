// Package ota delivers firmware images to boards over the HTTP update protocol.
package ota

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/mdario971/cactus-flasher/internal/logger"
	"github.com/mdario971/cactus-flasher/internal/models"
)

const (
	defaultTimeout   = 120 * time.Second
	defaultChunkSize = 4096

	updatePath     = "/update"
	formField      = "firmware"
	md5Header      = "x-MD5"
	maxReplyBytes  = 4 << 10
	defaultImgName = "firmware.bin"
)

// Options tunes an Engine. Zero values fall back to defaults.
type Options struct {
	Timeout   time.Duration
	ChunkSize int
	Client    *http.Client
}

// Target is where and how a board accepts uploads.
type Target struct {
	Host        string
	OTAPort     int
	WebPort     int
	WebUsername string
	WebPassword string
}

func (t Target) hasFallback() bool {
	return t.WebPort > 0 && t.WebUsername != "" && t.WebPassword != ""
}

// Image is a firmware binary and the file name it is uploaded as.
type Image struct {
	Name string
	Data []byte
}

// Progress is reported while an upload is running.
type Progress struct {
	Percent    int
	BytesSent  int64
	TotalBytes int64
	Message    string
}

// Result describes an accepted upload. Acceptance is not a reboot confirmation.
type Result struct {
	Target  string
	MD5     string
	Bytes   int
	Message string
}

// Engine uploads images with an x-MD5 header and a web-port fallback.
type Engine struct {
	client    *http.Client
	timeout   time.Duration
	chunkSize int
	log       *logger.Logger
}

func NewEngine(opts Options, log *logger.Logger) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{client: opts.Client, timeout: opts.Timeout, chunkSize: opts.ChunkSize, log: log}
}

// Flash uploads img to t. The OTA port is tried first; when it fails for any reason
// other than a timeout and the board has web credentials, the web port is tried with
// HTTP Basic auth. A failed upload restarts from zero; there is no resume.
func (e *Engine) Flash(ctx context.Context, t Target, img Image, onProgress func(Progress)) (Result, error) {
	if len(img.Data) == 0 {
		return Result{}, models.Invalid("firmware", "image is empty")
	}
	if img.Name == "" {
		img.Name = defaultImgName
	}
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	sum := md5.Sum(img.Data)
	digest := hex.EncodeToString(sum[:])
	total := int64(len(img.Data))

	report(Progress{Percent: 0, TotalBytes: total, Message: "Preparing upload..."})

	primary := fmt.Sprintf("OTA:%d", t.OTAPort)
	err := e.attempt(ctx, t.Host, t.OTAPort, primary, img, digest, nil, report)
	if err == nil {
		return e.accepted(primary, digest, img, report), nil
	}

	var first *Error
	if !errors.As(err, &first) || !first.fallbackAllowed() || !t.hasFallback() {
		e.log.Warnw("ota_upload_failed", "target", primary, "host", t.Host, "err", err)
		return Result{}, err
	}

	report(Progress{Percent: 0, TotalBytes: total,
		Message: fmt.Sprintf("OTA port failed, trying web_server port %d...", t.WebPort)})

	fallback := fmt.Sprintf("WEB:%d", t.WebPort)
	creds := &basicAuth{user: t.WebUsername, pass: t.WebPassword}
	err = e.attempt(ctx, t.Host, t.WebPort, fallback, img, digest, creds, report)
	if err == nil {
		return e.accepted(fallback, digest, img, report), nil
	}

	var second *Error
	if errors.As(err, &second) {
		err = combine(first, second)
	}
	e.log.Warnw("ota_upload_failed", "target", fallback, "host", t.Host, "err", err)
	return Result{}, err
}

func (e *Engine) accepted(target, digest string, img Image, report func(Progress)) Result {
	total := int64(len(img.Data))
	report(Progress{Percent: 100, BytesSent: total, TotalBytes: total, Message: "Flash successful! Board is rebooting..."})
	e.log.Infow("ota_upload_accepted", "target", target, "bytes", total, "md5", digest)
	return Result{Target: target, MD5: digest, Bytes: len(img.Data), Message: "Firmware flashed successfully"}
}

type basicAuth struct {
	user, pass string
}

// attempt performs one multipart POST bounded by the engine timeout.
func (e *Engine) attempt(
	ctx context.Context,
	host string,
	port int,
	label string,
	img Image,
	digest string,
	auth *basicAuth,
	report func(Progress),
) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prefix, suffix, contentType, err := multipartFrame(img.Name)
	if err != nil {
		return fmt.Errorf("build multipart body: %w", err)
	}

	total := int64(len(img.Data))
	body := io.MultiReader(
		bytes.NewReader(prefix),
		&progressReader{
			r:     bytes.NewReader(img.Data),
			chunk: e.chunkSize,
			total: total,
			onRead: func(sent int64) {
				report(Progress{
					Percent:    int(sent * 100 / total),
					BytesSent:  sent,
					TotalBytes: total,
					Message:    fmt.Sprintf("Uploading firmware (%s): %d/%d bytes", label, sent, total),
				})
			},
		},
		bytes.NewReader(suffix),
	)

	url := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + updatePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", label, err)
	}
	req.ContentLength = int64(len(prefix)) + total + int64(len(suffix))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(md5Header, digest)
	if auth != nil {
		req.SetBasicAuth(auth.user, auth.pass)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return timedOut(label, err)
		}
		return unreachable(label, err)
	}
	defer func() { _ = resp.Body.Close() }()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return rejected(label, resp.StatusCode, strings.TrimSpace(string(reply)))
}

// multipartFrame renders everything around the file bytes so Content-Length is exact
// and the body can be streamed without chunked transfer encoding.
func multipartFrame(filename string) (prefix, suffix []byte, contentType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, formField, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", "application/octet-stream")
	if _, err = mw.CreatePart(h); err != nil {
		return nil, nil, "", err
	}
	prefix = bytes.Clone(buf.Bytes())
	buf.Reset()

	if err = mw.Close(); err != nil {
		return nil, nil, "", err
	}
	return prefix, bytes.Clone(buf.Bytes()), mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func mentionsMD5(body string) bool {
	return strings.Contains(strings.ToLower(body), "md5")
}

// progressReader hands out at most chunk bytes per Read and reports the running total.
type progressReader struct {
	r      io.Reader
	chunk  int
	sent   int64
	total  int64
	onRead func(sent int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	if len(b) > p.chunk {
		b = b[:p.chunk]
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.onRead(p.sent)
	}
	return n, err
}
