package handlers

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mdario971/cactus-flasher/internal/service"
)

// maxFirmwareBytes bounds an uploaded firmware image.
const maxFirmwareBytes = 16 << 20

// FlashFromBuildRequest flashes the artifact of a finished build.
type FlashFromBuildRequest struct {
	BoardName    string `json:"board_name" binding:"required" example:"cactus-sentinel"`
	BuildID      string `json:"build_id,omitempty" example:"3f9a1c2e"`
	FirmwarePath string `json:"firmware_path,omitempty"`
}

// readFormFile reads an uploaded file with an upper size bound.
func readFormFile(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit))
}

// @Summary      Flash an uploaded image
// @Description  Starts an OTA upload and returns its id at once; poll status or open the WebSocket for progress.
// @Tags         flash
// @Accept       multipart/form-data
// @Produce      json
// @Param        file        formData  file    true  "Firmware (.bin)"
// @Param        board_name  formData  string  true  "Target board"
// @Success      202         {object}  map[string]string  "flash_id, message"
// @Failure      400         {object}  map[string]string
// @Failure      404         {object}  map[string]string
// @Router       /api/flash/upload [post]
// @Security     BearerAuth
func (h *Handler) flashUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'file'"})
		return
	}
	if fh.Size > maxFirmwareBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "firmware is too large"})
		return
	}
	data, err := readFormFile(fh, maxFirmwareBytes)
	if err != nil {
		h.logAndJSONError(c, http.StatusBadRequest, "could not read 'file'", "flash_upload_read_failed", err)
		return
	}
	h.startFlash(c, service.FlashRequest{
		BoardName: c.PostForm("board_name"),
		FileName:  fh.Filename,
		Firmware:  data,
	})
}

// @Summary      Flash a build artifact
// @Tags         flash
// @Accept       json
// @Produce      json
// @Param        body  body      FlashFromBuildRequest  true  "Board and build"
// @Success      202   {object}  map[string]string  "flash_id, message"
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/flash/from-build [post]
// @Security     BearerAuth
func (h *Handler) flashFromBuild(c *gin.Context) {
	var input FlashFromBuildRequest
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}
	h.startFlash(c, service.FlashRequest{
		BoardName:    input.BoardName,
		BuildID:      input.BuildID,
		FirmwarePath: input.FirmwarePath,
	})
}

func (h *Handler) startFlash(c *gin.Context, req service.FlashRequest) {
	op, err := h.services.Flasher.Start(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, "flash_start_failed", err, "board", req.BoardName)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"flash_id": op.FlashID,
		"message":  "Flash operation started for board '" + op.BoardName + "'",
	})
}

// @Summary      Flash status
// @Tags         flash
// @Produce      json
// @Param        flash_id  path      string  true  "Flash id"
// @Success      200       {object}  models.FlashOperation
// @Failure      404       {object}  map[string]string
// @Router       /api/flash/status/{flash_id} [get]
// @Security     BearerAuth
func (h *Handler) flashStatus(c *gin.Context) {
	op, err := h.services.Flasher.Status(c.Param("flash_id"))
	if err != nil {
		h.respondServiceError(c, "flash_status_failed", err)
		return
	}
	c.JSON(http.StatusOK, op)
}

// @Summary      Flash history
// @Tags         flash
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "operations"
// @Router       /api/flash/history [get]
// @Security     BearerAuth
func (h *Handler) flashHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"operations": h.services.Flasher.History()})
}
