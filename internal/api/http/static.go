package http

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/previewd/previewd/internal/catalog"
	"github.com/previewd/previewd/internal/infrastructure/logging"
)

// StaticRouter serves static app bundles under /<app>/ with SPA
// fallback, plus the shared SDK bundle under /__sdk/.
type StaticRouter struct {
	catalog *catalog.Manager
	sdkDir  string
	log     *logging.Logger
}

// NewStaticRouter creates the static file router.
func NewStaticRouter(cat *catalog.Manager, sdkDir string, log *logging.Logger) *StaticRouter {
	return &StaticRouter{
		catalog: cat,
		sdkDir:  sdkDir,
		log:     log,
	}
}

// Handle serves unmatched GET paths. The first segment names an app;
// everything after it is a path inside the app's bundle. Unknown files
// fall back to index.html so client-side routers work.
func (r *StaticRouter) Handle(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	appName, rest := splitAppPath(c.Request.URL.Path)
	if appName == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	desc, err := r.catalog.Get(appName)
	if err != nil || desc.Mode() != catalog.ModeStatic {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown app"})
		return
	}

	path, ok := resolveWithin(desc.Dir, rest)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		// SPA fallback: unknown paths and directories get the bundle's
		// index.html.
		index := filepath.Join(desc.Dir, "index.html")
		if _, err := os.Stat(index); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "app has no index.html"})
			return
		}
		path = index
	}

	r.serveFile(c, path)
}

// ServeSDK serves files from the shared SDK bundle.
func (r *StaticRouter) ServeSDK(c *gin.Context) {
	path, ok := resolveWithin(r.sdkDir, c.Param("filepath"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	r.serveFile(c, path)
}

func (r *StaticRouter) serveFile(c *gin.Context, path string) {
	// Extensions the mime table does not know are sniffed from content.
	if mime.TypeByExtension(filepath.Ext(path)) == "" {
		if mt, err := mimetype.DetectFile(path); err == nil {
			c.Header("Content-Type", mt.String())
		}
	}
	c.File(path)
}

// splitAppPath separates "/<app>/rest/of/path" into its app name and
// in-bundle path.
func splitAppPath(urlPath string) (app, rest string) {
	trimmed := strings.TrimPrefix(urlPath, "/")
	app, rest, _ = strings.Cut(trimmed, "/")
	return app, rest
}

// resolveWithin joins rel onto root and rejects escapes.
func resolveWithin(root, rel string) (string, bool) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	path := filepath.Join(abs, filepath.Clean("/"+rel))
	if path != abs && !strings.HasPrefix(path, abs+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}
