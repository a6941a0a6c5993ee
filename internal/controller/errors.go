package controller

import (
	"github.com/gin-gonic/gin"

	"checkout-service/internal/service"
)

// respondError traduce cualquier error del dominio a su código HTTP.
func respondError(c *gin.Context, err error) {
	kind := service.Classify(err)
	c.JSON(kind.HTTPStatus(), gin.H{"error": err.Error(), "kind": kind.String()})
}
