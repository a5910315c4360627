package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/service"
)

// do sends an authenticated request; a non-empty body is sent as JSON.
func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header = authHeader(testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func TestBoards_ListAndCreate(t *testing.T) {
	boards := &mockBoards{
		list: []models.BoardView{{Name: "cactus-sentinel", ID: 88, WebserverPort: 8088, OTAPort: 8288, APIPort: 8688}},
		view: models.BoardView{Name: "greenhouse", ID: 1, WebserverPort: 8001, OTAPort: 8201, APIPort: 8601},
	}
	r := newTestRouter(authed(&service.Service{Boards: boards}))

	w := do(r, http.MethodGet, "/api/boards", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d body=%s", w.Code, w.Body.String())
	}
	var list struct {
		Boards []models.BoardView `json:"boards"`
		Total  int                `json:"total"`
	}
	decode(t, w, &list)
	if list.Total != 1 || list.Boards[0].OTAPort != 8288 {
		t.Fatalf("unexpected list: %+v", list)
	}

	w = do(r, http.MethodPost, "/api/boards", `{"name":"greenhouse","id":1,"type":"esp8266","web_password":"pw"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	if boards.lastCreate.Name != "greenhouse" || boards.lastCreate.Type != models.BoardESP8266 || boards.lastCreate.WebPassword != "pw" {
		t.Fatalf("service got %+v", boards.lastCreate)
	}
	var created models.BoardView
	decode(t, w, &created)
	if created.APIPort != 8601 {
		t.Fatalf("created view %+v", created)
	}

	// missing id fails binding before the service is called
	boards.lastCreate = models.BoardCreate{}
	w = do(r, http.MethodPost, "/api/boards", `{"name":"x"}`)
	if w.Code != http.StatusBadRequest || boards.lastCreate.Name != "" {
		t.Fatalf("bad body: status=%d create=%+v", w.Code, boards.lastCreate)
	}
}

func TestBoards_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", models.Invalid("id", "must be between 1 and 99"), http.StatusBadRequest},
		{"not found", models.NotFound("board %q", "ghost"), http.StatusNotFound},
		{"internal", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(authed(&service.Service{Boards: &mockBoards{err: tc.err}}))
			w := do(r, http.MethodGet, "/api/boards/ghost", "")
			if w.Code != tc.want {
				t.Fatalf("status=%d want %d", w.Code, tc.want)
			}
			var out struct {
				Error string `json:"error"`
			}
			decode(t, w, &out)
			if tc.want == http.StatusInternalServerError && out.Error != errInternal {
				t.Fatalf("internal errors must be hidden, got %q", out.Error)
			}
			if tc.want != http.StatusInternalServerError && out.Error != tc.err.Error() {
				t.Fatalf("error = %q, want %q", out.Error, tc.err.Error())
			}
		})
	}
}

func TestBoards_UpdateAndDelete(t *testing.T) {
	boards := &mockBoards{view: models.BoardView{Name: "renamed", ID: 5}}
	r := newTestRouter(authed(&service.Service{Boards: boards}))

	w := do(r, http.MethodPut, "/api/boards/old", `{"name":"renamed","host":"10.0.0.5"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w.Code, w.Body.String())
	}
	u := boards.lastUpdate
	if boards.lastName != "old" || u.Name == nil || *u.Name != "renamed" || u.Host == nil || *u.Host != "10.0.0.5" {
		t.Fatalf("update got name=%q %+v", boards.lastName, u)
	}
	if u.Type != nil || u.WebPassword != nil {
		t.Fatalf("omitted fields must stay nil: %+v", u)
	}

	w = do(r, http.MethodDelete, "/api/boards/renamed", "")
	if w.Code != http.StatusOK || boards.lastName != "renamed" {
		t.Fatalf("delete status=%d name=%q", w.Code, boards.lastName)
	}
}

func TestBoards_ScanDiscoverPing(t *testing.T) {
	sc := &mockScanner{
		results: []service.ScanResult{{Name: "a", Online: true, OTAOnline: true}},
		report:  service.DiscoveryReport{TotalFound: 1, NewBoards: 1, Discovered: []service.Candidate{{ID: 7, OTAPort: 8207, IsNew: true}}},
		ping:    service.ScanResult{Name: "a", Online: false},
	}
	r := newTestRouter(authed(&service.Service{Scanner: sc}))

	w := do(r, http.MethodGet, "/api/boards/scan", "")
	var scan struct {
		Boards []service.ScanResult `json:"boards"`
	}
	decode(t, w, &scan)
	if w.Code != http.StatusOK || len(scan.Boards) != 1 || !scan.Boards[0].OTAOnline {
		t.Fatalf("scan status=%d body=%s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/boards/discover?auto_register=true", "")
	var rep service.DiscoveryReport
	decode(t, w, &rep)
	if w.Code != http.StatusOK || !sc.lastAuto || rep.NewBoards != 1 || rep.Discovered[0].OTAPort != 8207 {
		t.Fatalf("discover status=%d auto=%v report=%+v", w.Code, sc.lastAuto, rep)
	}

	w = do(r, http.MethodGet, "/api/boards/discover?auto_register=maybe", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad auto_register: status=%d", w.Code)
	}

	w = do(r, http.MethodPost, "/api/boards/a/ping", "")
	if w.Code != http.StatusOK || sc.lastName != "a" {
		t.Fatalf("ping status=%d name=%q", w.Code, sc.lastName)
	}
}

func TestBoards_ExportOmitsSecrets(t *testing.T) {
	boards := &mockBoards{exported: []models.Board{{
		Name:        "cactus-sentinel",
		ID:          88,
		Type:        models.BoardESP32,
		WebUsername: "admin",
		WebPassword: "hunter2",
		APIKey:      "c2VjcmV0",
	}}}
	r := newTestRouter(authed(&service.Service{Boards: boards}))

	w := do(r, http.MethodGet, "/api/boards/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-yaml" {
		t.Fatalf("content type %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "cactus-sentinel:") || !strings.Contains(body, "id: 88") {
		t.Fatalf("export body:\n%s", body)
	}
	if strings.Contains(body, "hunter2") || strings.Contains(body, "c2VjcmV0") {
		t.Fatalf("export leaks secrets:\n%s", body)
	}
}

func TestBoards_RequireToken(t *testing.T) {
	r := newTestRouter(authed(&service.Service{Boards: &mockBoards{}}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/boards", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status=%d", w.Code)
	}
}
