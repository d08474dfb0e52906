package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/face-recognition/internal/api/dto"
	"github.com/cuongbtq/face-recognition/internal/index"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RegisterIdentity handles POST /api/v1/identities
// Registers the face in the uploaded photo under the given identifier
func (h *IdentityHandler) RegisterIdentity(c *gin.Context) {
	var req dto.RegisterIdentityRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Warn("Invalid registration request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "identifier is required",
		})
		return
	}

	image, err := readUpload(c, "file")
	if err != nil {
		respondError(c, h.logger, "Invalid upload", err)
		return
	}

	identity, err := h.service.RegisterIdentity(c.Request.Context(), req.Identifier, image)
	if err != nil {
		respondError(c, h.logger, "Failed to register identity", err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewIdentityDTO(*identity))
}

// ListIdentities handles GET /api/v1/identities
// Lists registered identities newest first with cursor pagination
func (h *IdentityHandler) ListIdentities(c *gin.Context) {
	var req dto.ListIdentitiesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeIdentityCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	identities, err := h.service.ListIdentities(c.Request.Context(), req.PageSize, cursor)
	if err != nil {
		respondError(c, h.logger, "Failed to list identities", err)
		return
	}

	// one extra row tells whether another page exists
	hasMore := len(identities) > req.PageSize
	if hasMore {
		identities = identities[:req.PageSize]
	}

	resp := dto.ListIdentitiesResponse{
		Identities: make([]dto.IdentityDTO, len(identities)),
	}
	for i, id := range identities {
		resp.Identities[i] = dto.NewIdentityDTO(id)
	}

	if hasMore {
		last := identities[len(identities)-1]
		resp.NextCursor = EncodeIdentityCursor(&index.Cursor{
			CreatedAt:  last.CreatedAt,
			Identifier: last.Identifier,
		})
	}

	c.JSON(http.StatusOK, resp)
}
