package handlers

import (
	_ "embed"
	"html/template"
	"net/http"
	"strings"
)

//go:embed openapi.json
var openAPISpec []byte

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>DreamSense API Docs</title>
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <style>body { margin: 0; } redoc { display: block; height: 100vh; }</style>
  </head>
  <body>
    <redoc spec-url="{{.SpecURL}}"></redoc>
    <script src="https://cdn.jsdelivr.net/npm/redoc@2.2.0/bundles/redoc.standalone.js"></script>
  </body>
</html>`))

func (a *App) OpenAPIJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}

// OpenAPIDocs renders Redoc against the openapi.json living next to the docs
// path, so /api/v1/docs loads /api/v1/openapi.json.
func (a *App) OpenAPIDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := docsPage.Execute(w, struct{ SpecURL string }{docsSpecURL(r.URL.Path)}); err != nil {
		log := a.requestLogger(r)
		log.Warn().Err(err).Msg("render docs page")
	}
}

func docsSpecURL(docsPath string) string {
	prefix := strings.TrimSuffix(strings.TrimSuffix(docsPath, "/"), "/docs")
	return prefix + "/openapi.json"
}
