package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/bookstore-orderflow/internal/downloads"
)

func (s *server) handleDownload(c *gin.Context) {
	url, err := s.cfg.Redeemer.Redeem(c.Request.Context(), c.Param("token"))
	switch {
	case err == nil:
	case errors.Is(err, downloads.ErrInvalidToken):
		writeError(c, http.StatusForbidden, "FORBIDDEN", "invalid or expired download link")
		return
	case errors.Is(err, downloads.ErrFileUnavailable):
		writeError(c, http.StatusNotFound, "FILE_UNAVAILABLE", "file not available")
		return
	default:
		s.logger.ErrorContext(c.Request.Context(), "download redemption failed", "err", err)
		writeError(c, http.StatusInternalServerError, "DOWNLOAD_FAILED", "could not prepare download")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, url)
}
