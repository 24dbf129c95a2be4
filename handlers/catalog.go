package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-svc/catalog"
)

type CatalogHandler struct {
	catalog *catalog.Catalog
}

func NewCatalogHandler(cat *catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: cat}
}

func (h *CatalogHandler) ListProducts(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.Products())
}

func (h *CatalogHandler) GetProduct(c *gin.Context) {
	p, ok := h.catalog.Product(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, codeNotFound, "Product not found")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *CatalogHandler) ListBundles(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.Bundles())
}
