package router

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAPIPath = "../../../public/docs/v1/openapi.yml"

func loadOpenAPI(t *testing.T) *openapi3.T {
	t.Helper()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(openAPIPath)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	return doc
}

func TestOpenAPIDocumentIsValid(t *testing.T) {
	doc := loadOpenAPI(t)
	assert.Equal(t, "3.0.3", doc.OpenAPI)
	assert.NotNil(t, doc.Paths.Find("/api/stripe/webhook"))
}

// Every documented operation must be served by the API routers.
func TestOpenAPIMatchesRegisteredRoutes(t *testing.T) {
	doc := loadOpenAPI(t)

	app := fiber.New()
	setup(app, NewWebhookRouter(), NewApiRouter())

	registered := map[string]bool{}
	for _, r := range app.GetRoutes(true) {
		registered[r.Method+" "+r.Path] = true
	}

	for path, item := range doc.Paths.Map() {
		fiberPath := strings.NewReplacer("{", ":", "}", "").Replace(path)
		for method := range item.Operations() {
			key := strings.ToUpper(method) + " " + fiberPath
			assert.True(t, registered[key], "documented route %s is not registered", key)
		}
	}
	assert.True(t, registered[http.MethodPost+" /api/stripe/webhook"])
}
