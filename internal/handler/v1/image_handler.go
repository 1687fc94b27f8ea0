package v1

import (
	"errors"
	"net/http"

	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/imagestore"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ImageHandler serves stored uploads at the store's public prefix, whatever the backend.
type ImageHandler struct {
	images imagestore.Store
	log    *zap.Logger
}

func NewImageHandler(images imagestore.Store, log *zap.Logger) *ImageHandler {
	return &ImageHandler{images: images, log: log}
}

// Get handles GET <prefix>/:key.
func (h *ImageHandler) Get(c *gin.Context) {
	obj, err := h.images.Open(c.Request.Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, imagestore.ErrInvalidKey) {
			respondError(c, http.StatusNotFound, CodeNotFound, imagestore.ErrImageNotFound.Error())
			return
		}
		respondServiceError(c, h.log, err)
		return
	}
	defer obj.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Header("X-Content-Type-Options", "nosniff")
	c.DataFromReader(http.StatusOK, obj.Size, contentType, obj, nil)
}
