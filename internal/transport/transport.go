// Package transport holds what the SSE and Connect transports share.
package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"agui-bridge/internal/agui"
)

// UserIDHeader optionally names the end user a run belongs to.
const UserIDHeader = "X-User-Id"

// Runner runs one AG-UI request and streams its protocol events. The channel
// is closed after the terminal event or when ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, in *agui.RunAgentInput, userID string) <-chan events.Event
}

// UserID reads the user id from the request headers.
func UserID(h http.Header) string {
	return strings.TrimSpace(h.Get(UserIDHeader))
}
