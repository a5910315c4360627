package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mdario971/cactus-flasher/internal/builder"
	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/service"
)

// maxSourceBytes bounds an uploaded source file or project archive.
const maxSourceBytes = 64 << 20

// readUpload reads a required multipart file from the first field present.
func (h *Handler) readUpload(c *gin.Context, field string, aliases ...string) (string, []byte, bool) {
	fh, err := c.FormFile(field)
	for _, a := range aliases {
		if err == nil {
			break
		}
		fh, err = c.FormFile(a)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing '" + field + "'"})
		return "", nil, false
	}
	if fh.Size > maxSourceBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'" + field + "' is too large"})
		return "", nil, false
	}
	data, err := readFormFile(fh, maxSourceBytes)
	if err != nil {
		h.logAndJSONError(c, http.StatusBadRequest, "could not read '"+field+"'", "build_upload_read_failed", err)
		return "", nil, false
	}
	return fh.Filename, data, true
}

func (h *Handler) startBuild(c *gin.Context, req service.BuildRequest) {
	op, err := h.services.Builder.Start(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, "build_start_failed", err, "project", req.ProjectType)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"build_id": op.BuildID, "message": string(req.ProjectType) + " build started"})
}

// @Summary      Build ESPHome firmware
// @Tags         build
// @Accept       multipart/form-data
// @Produce      json
// @Param        yaml_file   formData  file    true   "ESPHome configuration (.yaml/.yml)"
// @Param        board_type  formData  string  false  "Board type"  default(esp32)
// @Success      202         {object}  map[string]string  "build_id, message"
// @Failure      400         {object}  map[string]string
// @Router       /api/build/esphome [post]
// @Security     BearerAuth
func (h *Handler) buildESPHome(c *gin.Context) {
	name, data, ok := h.readUpload(c, "yaml_file", "file")
	if !ok {
		return
	}
	h.startBuild(c, service.BuildRequest{
		ProjectType: models.ProjectESPHome,
		BoardType:   c.DefaultPostForm("board_type", string(models.BoardESP32)),
		FileName:    name,
		Source:      data,
	})
}

// @Summary      Build an Arduino sketch
// @Tags         build
// @Accept       multipart/form-data
// @Produce      json
// @Param        sketch_file  formData  file    true   "Sketch (.ino)"
// @Param        libraries    formData  file    false  "Extra library files"
// @Param        board_type   formData  string  false  "FQBN or board type"  default(esp32:esp32:esp32)
// @Success      202          {object}  map[string]string  "build_id, message"
// @Failure      400          {object}  map[string]string
// @Router       /api/build/arduino [post]
// @Security     BearerAuth
func (h *Handler) buildArduino(c *gin.Context) {
	name, data, ok := h.readUpload(c, "sketch_file", "file")
	if !ok {
		return
	}
	req := service.BuildRequest{
		ProjectType: models.ProjectArduino,
		BoardType:   c.DefaultPostForm("board_type", builder.DefaultFQBN),
		FileName:    name,
		Source:      data,
	}
	if form, err := c.MultipartForm(); err == nil {
		for _, fh := range form.File["libraries"] {
			lib, err := readFormFile(fh, maxSourceBytes)
			if err != nil {
				h.logAndJSONError(c, http.StatusBadRequest, "could not read 'libraries'", "build_upload_read_failed", err)
				return
			}
			req.Libraries = append(req.Libraries, service.SourceFile{Name: fh.Filename, Data: lib})
		}
	}
	h.startBuild(c, req)
}

// @Summary      Build a PlatformIO project
// @Tags         build
// @Accept       multipart/form-data
// @Produce      json
// @Param        project_zip  formData  file    true   "Project archive (.zip)"
// @Param        environment  formData  string  false  "platformio.ini environment"
// @Success      202          {object}  map[string]string  "build_id, message"
// @Failure      400          {object}  map[string]string
// @Router       /api/build/platformio [post]
// @Security     BearerAuth
func (h *Handler) buildPlatformIO(c *gin.Context) {
	name, data, ok := h.readUpload(c, "project_zip", "file")
	if !ok {
		return
	}
	h.startBuild(c, service.BuildRequest{
		ProjectType: models.ProjectPlatformIO,
		FileName:    name,
		Source:      data,
		Environment: c.PostForm("environment"),
	})
}

// @Summary      Build status
// @Tags         build
// @Produce      json
// @Param        build_id  path      string  true  "Build id"
// @Success      200       {object}  models.BuildOperation
// @Failure      404       {object}  map[string]string
// @Router       /api/build/status/{build_id} [get]
// @Security     BearerAuth
func (h *Handler) buildStatus(c *gin.Context) {
	op, err := h.services.Builder.Status(c.Param("build_id"))
	if err != nil {
		h.respondServiceError(c, "build_status_failed", err)
		return
	}
	c.JSON(http.StatusOK, op)
}

// @Summary      Build logs
// @Tags         build
// @Produce      json
// @Param        build_id  path      string  true  "Build id"
// @Success      200       {object}  map[string]string  "build_id, logs"
// @Failure      404       {object}  map[string]string
// @Router       /api/build/logs/{build_id} [get]
// @Security     BearerAuth
func (h *Handler) buildLogs(c *gin.Context) {
	op, err := h.services.Builder.Status(c.Param("build_id"))
	if err != nil {
		h.respondServiceError(c, "build_logs_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"build_id": op.BuildID, "logs": op.Logs})
}

// @Summary      List builds
// @Tags         build
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "builds"
// @Router       /api/build/list [get]
// @Security     BearerAuth
func (h *Handler) listBuilds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"builds": h.services.Builder.List()})
}
