package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/service"
)

type formFile struct {
	field, name string
	data        []byte
}

// postMultipart sends an authenticated multipart form.
func postMultipart(r *gin.Engine, path string, fields map[string]string, files ...formFile) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	for _, f := range files {
		fw, _ := mw.CreateFormFile(f.field, f.name)
		_, _ = fw.Write(f.data)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header = authHeader(testToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestFlash_Upload(t *testing.T) {
	fl := &mockFlasher{started: models.FlashOperation{FlashID: "ab12cd34", BoardName: "cactus-sentinel", Status: models.FlashPending}}
	r := newTestRouter(authed(&service.Service{Flasher: fl}))

	w := postMultipart(r, "/api/flash/upload", map[string]string{"board_name": "cactus-sentinel"},
		formFile{"file", "fw.bin", []byte{0xE9, 1, 2, 3}})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var out map[string]string
	decode(t, w, &out)
	if out["flash_id"] != "ab12cd34" {
		t.Fatalf("response %v", out)
	}
	req := fl.lastReq
	if req.BoardName != "cactus-sentinel" || req.FileName != "fw.bin" || !bytes.Equal(req.Firmware, []byte{0xE9, 1, 2, 3}) {
		t.Fatalf("service got %+v", req)
	}

	w = postMultipart(r, "/api/flash/upload", map[string]string{"board_name": "cactus-sentinel"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing file: status=%d", w.Code)
	}
}

func TestFlash_StartErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unknown board", models.NotFound("board %q", "ghost"), http.StatusNotFound},
		{"not a bin", models.Invalid("file", "firmware must be a .bin file"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(authed(&service.Service{Flasher: &mockFlasher{startErr: tc.err}}))
			w := postMultipart(r, "/api/flash/upload", map[string]string{"board_name": "ghost"},
				formFile{"file", "fw.txt", []byte("x")})
			if w.Code != tc.want {
				t.Fatalf("status=%d want %d", w.Code, tc.want)
			}
		})
	}
}

func TestFlash_FromBuild(t *testing.T) {
	fl := &mockFlasher{started: models.FlashOperation{FlashID: "f1", BoardName: "a"}}
	r := newTestRouter(authed(&service.Service{Flasher: fl}))

	w := do(r, http.MethodPost, "/api/flash/from-build", `{"board_name":"a","build_id":"b1"}`)
	if w.Code != http.StatusAccepted || fl.lastReq.BuildID != "b1" || fl.lastReq.BoardName != "a" {
		t.Fatalf("status=%d req=%+v", w.Code, fl.lastReq)
	}

	w = do(r, http.MethodPost, "/api/flash/from-build", `{"build_id":"b1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing board_name: status=%d", w.Code)
	}
}

func TestFlash_StatusAndHistory(t *testing.T) {
	op := models.FlashOperation{FlashID: "f1", BoardName: "a", Status: models.FlashUploading, Progress: 40}
	fl := &mockFlasher{script: []models.FlashOperation{op}, history: []models.FlashOperation{op}}
	r := newTestRouter(authed(&service.Service{Flasher: fl}))

	w := do(r, http.MethodGet, "/api/flash/status/f1", "")
	var got models.FlashOperation
	decode(t, w, &got)
	if w.Code != http.StatusOK || got.Progress != 40 {
		t.Fatalf("status=%d op=%+v", w.Code, got)
	}

	if w := do(r, http.MethodGet, "/api/flash/status/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown id: status=%d", w.Code)
	}

	w = do(r, http.MethodGet, "/api/flash/history", "")
	var hist struct {
		Operations []models.FlashOperation `json:"operations"`
	}
	decode(t, w, &hist)
	if len(hist.Operations) != 1 {
		t.Fatalf("history %+v", hist)
	}
}
