// Package docs serves the OpenAPI description of the task and notification
// APIs.
package docs

import (
	"embed"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/taskflow/internal/httputil"
)

//go:embed openapi.yaml
var openAPISpec embed.FS

// RegisterRoutes serves the raw spec and a Swagger UI page. Neither route
// requires authentication.
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/docs/openapi.yaml", serveSpec).Methods(http.MethodGet)
	r.HandleFunc("/api/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(swaggerUIHTML))
	}).Methods(http.MethodGet)
}

func serveSpec(w http.ResponseWriter, r *http.Request) {
	data, err := openAPISpec.ReadFile("openapi.yaml")
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "spec not found")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(data)
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>TaskFlow API Docs</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '/api/docs/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
