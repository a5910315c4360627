package handlers

import (
	"net/http"
	"testing"

	"github.com/mdario971/cactus-flasher/internal/builder"
	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/service"
)

func TestBuild_Start(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		fields map[string]string
		files  []formFile
		check  func(t *testing.T, req service.BuildRequest)
	}{
		{
			name:  "esphome defaults to esp32",
			path:  "/api/build/esphome",
			files: []formFile{{"yaml_file", "node.yaml", []byte("esphome:\n  name: node\n")}},
			check: func(t *testing.T, req service.BuildRequest) {
				if req.ProjectType != models.ProjectESPHome || req.BoardType != "esp32" || req.FileName != "node.yaml" {
					t.Fatalf("req %+v", req)
				}
			},
		},
		{
			name:   "arduino with libraries",
			path:   "/api/build/arduino",
			fields: map[string]string{"board_type": "esp8266"},
			files: []formFile{
				{"sketch_file", "blink.ino", []byte("void setup(){}")},
				{"libraries", "util.h", []byte("#pragma once")},
				{"libraries", "util.cpp", []byte("")},
			},
			check: func(t *testing.T, req service.BuildRequest) {
				if req.BoardType != "esp8266" || len(req.Libraries) != 2 || req.Libraries[0].Name != "util.h" {
					t.Fatalf("req %+v", req)
				}
			},
		},
		{
			name:  "arduino default fqbn",
			path:  "/api/build/arduino",
			files: []formFile{{"file", "blink.ino", []byte("void setup(){}")}},
			check: func(t *testing.T, req service.BuildRequest) {
				if req.BoardType != builder.DefaultFQBN || req.FileName != "blink.ino" {
					t.Fatalf("req %+v", req)
				}
			},
		},
		{
			name:   "platformio environment",
			path:   "/api/build/platformio",
			fields: map[string]string{"environment": "d1_mini"},
			files:  []formFile{{"project_zip", "proj.zip", []byte("PK")}},
			check: func(t *testing.T, req service.BuildRequest) {
				if req.ProjectType != models.ProjectPlatformIO || req.Environment != "d1_mini" {
					t.Fatalf("req %+v", req)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &mockBuilder{started: models.BuildOperation{BuildID: "b1"}}
			r := newTestRouter(authed(&service.Service{Builder: b}))
			w := postMultipart(r, tc.path, tc.fields, tc.files...)
			if w.Code != http.StatusAccepted {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
			var out map[string]string
			decode(t, w, &out)
			if out["build_id"] != "b1" {
				t.Fatalf("response %v", out)
			}
			tc.check(t, b.lastReq)
		})
	}
}

func TestBuild_Rejects(t *testing.T) {
	b := &mockBuilder{err: models.Invalid("file", "expected a .yaml file")}
	r := newTestRouter(authed(&service.Service{Builder: b}))

	if w := postMultipart(r, "/api/build/esphome", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing file: status=%d", w.Code)
	}
	w := postMultipart(r, "/api/build/esphome", nil, formFile{"yaml_file", "node.txt", []byte("x")})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("service rejection: status=%d", w.Code)
	}
}

func TestBuild_StatusLogsList(t *testing.T) {
	b := &mockBuilder{ops: map[string]models.BuildOperation{
		"b1": {BuildID: "b1", Status: models.BuildFailed, Message: "Compilation failed", Logs: "error: 'x' was not declared"},
	}}
	r := newTestRouter(authed(&service.Service{Builder: b}))

	w := do(r, http.MethodGet, "/api/build/status/b1", "")
	var op models.BuildOperation
	decode(t, w, &op)
	if w.Code != http.StatusOK || op.Status != models.BuildFailed {
		t.Fatalf("status=%d op=%+v", w.Code, op)
	}

	w = do(r, http.MethodGet, "/api/build/logs/b1", "")
	var logs map[string]string
	decode(t, w, &logs)
	if w.Code != http.StatusOK || logs["logs"] != "error: 'x' was not declared" {
		t.Fatalf("status=%d logs=%v", w.Code, logs)
	}

	if w := do(r, http.MethodGet, "/api/build/logs/zz", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown build: status=%d", w.Code)
	}

	w = do(r, http.MethodGet, "/api/build/list", "")
	var list struct {
		Builds []models.BuildOperation `json:"builds"`
	}
	decode(t, w, &list)
	if len(list.Builds) != 1 {
		t.Fatalf("list %+v", list)
	}
}
