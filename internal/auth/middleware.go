package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"hac-shop/internal/logger"
)

type contextKey string

const staffKey contextKey = "staff"

// Verifier is satisfied by *oidc.IDTokenVerifier.
type Verifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// Staff is the authenticated operator behind an admin request.
type Staff struct {
	Subject string
	Email   string
	Roles   []string
}

// NewVerifier discovers the issuer and returns a verifier for its tokens.
// An empty clientID skips the audience check.
func NewVerifier(ctx context.Context, issuer, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	return provider.Verifier(&oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	}), nil
}

// RequireStaff admits bearer tokens that carry role.
func RequireStaff(verifier Verifier, role string, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			// Expect "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			idToken, err := verifier.Verify(r.Context(), parts[1])
			if err != nil {
				log.LogSecurity("TOKEN_REJECTED", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			var claims struct {
				Sub         string   `json:"sub"`
				Email       string   `json:"email"`
				Roles       []string `json:"roles"`
				RealmAccess struct {
					Roles []string `json:"roles"`
				} `json:"realm_access"`
			}
			if err := idToken.Claims(&claims); err != nil {
				http.Error(w, "failed to parse claims", http.StatusUnauthorized)
				return
			}

			staff := Staff{
				Subject: claims.Sub,
				Email:   claims.Email,
				Roles:   append(claims.RealmAccess.Roles, claims.Roles...),
			}
			if !staff.HasRole(role) {
				log.LogSecurity("FORBIDDEN", fmt.Sprintf("%s lacks role %q", staff.Subject, role))
				http.Error(w, "staff access required", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), staffKey, staff)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s Staff) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// StaffFrom returns the operator stored by RequireStaff.
func StaffFrom(ctx context.Context) (Staff, bool) {
	s, ok := ctx.Value(staffKey).(Staff)
	return s, ok
}
