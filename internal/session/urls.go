package session

import (
	"fmt"

	"github.com/previewd/previewd/internal/catalog"
)

// URLBuilder constructs the app-facing page URL for a session. The two
// hosting modes diverge: static apps load from the gateway's own
// listener under a per-app prefix, while process apps load directly
// from their spawned server's port and additionally receive the
// gateway's port as wsPort so the bundled protocol client knows where
// to open its WebSocket. The protocol WebSocket always terminates at
// the gateway either way.
type URLBuilder struct {
	Host        string
	GatewayPort int
}

// StaticURL returns the page URL for a statically-hosted app session.
func (b URLBuilder) StaticURL(app string, sid string) string {
	return fmt.Sprintf("http://%s:%d/%s/?sid=%s", b.Host, b.GatewayPort, app, sid)
}

// ProcessURL returns the page URL for a process-backed app session.
func (b URLBuilder) ProcessURL(appPort int, sid string) string {
	return fmt.Sprintf("http://%s:%d/?sid=%s&wsPort=%d", b.Host, appPort, sid, b.GatewayPort)
}

// For dispatches on the descriptor's hosting mode. appPort is ignored
// for static apps.
func (b URLBuilder) For(desc *catalog.Descriptor, sid string, appPort int) string {
	if desc.Mode() == catalog.ModeProcess {
		return b.ProcessURL(appPort, sid)
	}
	return b.StaticURL(desc.Name, sid)
}
