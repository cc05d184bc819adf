package handler

import (
	_ "embed"
	"net/http"
)

//go:embed openapi/openapi.yaml
var openAPIDocument []byte

// OpenAPIDocument returns the embedded OpenAPI 3 document.
func OpenAPIDocument() []byte {
	return openAPIDocument
}

// OpenAPI handles GET /docs/openapi.yaml.
func OpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDocument)
}
