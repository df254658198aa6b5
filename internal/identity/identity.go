// Package identity adapts the firm's auth collaborator. The messaging core
// treats the viewer's id and display name as opaque inputs.
package identity

import (
	"net/http"
	"strconv"

	"messaging-service/internal/apperr"
)

// Viewer is the authenticated user on whose behalf a request runs.
type Viewer struct {
	UserID      int64
	DisplayName string
}

// Provider resolves the viewer of an incoming request.
type Provider interface {
	ViewerFromRequest(r *http.Request) (Viewer, error)
}

// HeaderProvider trusts the identity headers set by the authenticating
// gateway in front of this service.
type HeaderProvider struct{}

// NewHeaderProvider constructs a HeaderProvider.
func NewHeaderProvider() *HeaderProvider {
	return &HeaderProvider{}
}

// ViewerFromRequest reads X-User-Id and X-User-Name.
func (p *HeaderProvider) ViewerFromRequest(r *http.Request) (Viewer, error) {
	raw := r.Header.Get("X-User-Id")
	if raw == "" {
		return Viewer{}, apperr.New(apperr.Validation, "missing identity")
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return Viewer{}, apperr.New(apperr.Validation, "invalid identity")
	}
	return Viewer{UserID: userID, DisplayName: r.Header.Get("X-User-Name")}, nil
}
