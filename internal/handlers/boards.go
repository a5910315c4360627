package handlers

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/registryfile"
)

// @Summary      List boards
// @Description  Registered boards with derived ports. Online is only known after a scan.
// @Tags         boards
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "boards, total"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/boards [get]
// @Security     BearerAuth
func (h *Handler) listBoards(c *gin.Context) {
	boards, err := h.services.Boards.List(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "boards_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boards": boards, "total": len(boards)})
}

// @Summary      Register a board
// @Tags         boards
// @Accept       json
// @Produce      json
// @Param        body  body      models.BoardCreate  true  "Board"
// @Success      201   {object}  models.BoardView
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/boards [post]
// @Security     BearerAuth
func (h *Handler) createBoard(c *gin.Context) {
	var input models.BoardCreate
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}
	view, err := h.services.Boards.Create(c.Request.Context(), input)
	if err != nil {
		h.respondServiceError(c, "board_create_failed", err, "board", input.Name)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// @Summary      Get a board
// @Description  Checks the OTA port live.
// @Tags         boards
// @Produce      json
// @Param        name  path      string  true  "Board name"
// @Success      200   {object}  models.BoardView
// @Failure      404   {object}  map[string]string
// @Router       /api/boards/{name} [get]
// @Security     BearerAuth
func (h *Handler) getBoard(c *gin.Context) {
	view, err := h.services.Boards.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondServiceError(c, "board_get_failed", err, "board", c.Param("name"))
		return
	}
	c.JSON(http.StatusOK, view)
}

// @Summary      Update a board
// @Description  Omitted fields are left unchanged. Setting name renames the board.
// @Tags         boards
// @Accept       json
// @Produce      json
// @Param        name  path      string              true  "Board name"
// @Param        body  body      models.BoardUpdate  true  "Changes"
// @Success      200   {object}  models.BoardView
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/boards/{name} [put]
// @Security     BearerAuth
func (h *Handler) updateBoard(c *gin.Context) {
	var input models.BoardUpdate
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}
	view, err := h.services.Boards.Update(c.Request.Context(), c.Param("name"), input)
	if err != nil {
		h.respondServiceError(c, "board_update_failed", err, "board", c.Param("name"))
		return
	}
	c.JSON(http.StatusOK, view)
}

// @Summary      Delete a board
// @Tags         boards
// @Produce      json
// @Param        name  path      string  true  "Board name"
// @Success      200   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/boards/{name} [delete]
// @Security     BearerAuth
func (h *Handler) deleteBoard(c *gin.Context) {
	name := c.Param("name")
	if err := h.services.Boards.Delete(c.Request.Context(), name); err != nil {
		h.respondServiceError(c, "board_delete_failed", err, "board", name)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Board '" + name + "' deleted successfully"})
}

// @Summary      Scan all boards
// @Description  Probes every board, stores discovered metadata and logs status transitions.
// @Tags         boards
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "boards"
// @Failure      500  {object}  map[string]string
// @Router       /api/boards/scan [get]
// @Security     BearerAuth
func (h *Handler) scanBoards(c *gin.Context) {
	results, err := h.services.Scanner.ScanAll(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "boards_scan_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boards": results})
}

// @Summary      Discover boards
// @Description  Sweeps the OTA port range on the DDNS host.
// @Tags         boards
// @Produce      json
// @Param        auto_register  query     bool  false  "Register new boards as board-NN"
// @Success      200            {object}  service.DiscoveryReport
// @Failure      400            {object}  map[string]string
// @Router       /api/boards/discover [get]
// @Security     BearerAuth
func (h *Handler) discoverBoards(c *gin.Context) {
	auto := false
	if s := c.Query("auto_register"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'auto_register'; use true or false"})
			return
		}
		auto = v
	}
	report, err := h.services.Scanner.Discover(c.Request.Context(), auto)
	if err != nil {
		h.respondServiceError(c, "boards_discover_failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// @Summary      Ping a board
// @Description  Reachability only; updates last_seen and the status log.
// @Tags         boards
// @Produce      json
// @Param        name  path      string  true  "Board name"
// @Success      200   {object}  service.ScanResult
// @Failure      404   {object}  map[string]string
// @Router       /api/boards/{name}/ping [post]
// @Security     BearerAuth
func (h *Handler) pingBoard(c *gin.Context) {
	res, err := h.services.Scanner.Ping(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondServiceError(c, "board_ping_failed", err, "board", c.Param("name"))
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary      Export the registry
// @Description  boards.yaml document without passwords or API keys.
// @Tags         boards
// @Produce      application/x-yaml
// @Success      200  {string}  string
// @Router       /api/boards/export [get]
// @Security     BearerAuth
func (h *Handler) exportBoards(c *gin.Context) {
	boards, err := h.services.Boards.Export(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "boards_export_failed", err)
		return
	}
	var buf bytes.Buffer
	if err := registryfile.Encode(&buf, boards, registryfile.EncodeOptions{}); err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errInternal, "boards_export_encode_failed", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="boards.yaml"`)
	c.Data(http.StatusOK, "application/x-yaml", buf.Bytes())
}
