package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pitabwire/vehicleflow/internal/capability"
	"github.com/pitabwire/vehicleflow/model"
)

type capabilitiesKey struct{}

// CapabilitiesFrom returns the capabilities resolved for the caller. A nil
// set means authorization is disabled.
func CapabilitiesFrom(ctx context.Context) model.CapabilitySet {
	caps, _ := ctx.Value(capabilitiesKey{}).(model.CapabilitySet)
	return caps
}

// ResolveCapabilities resolves the caller's capabilities once per request.
// It must run after BuildRequestContext. With a nil resolver it passes
// requests through untouched.
func ResolveCapabilities(resolver *capability.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if resolver == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rctx := model.RequestContextFrom(r.Context())
			if rctx == nil {
				WriteError(w, model.NewUnauthorizedError("Missing request context"))
				return
			}
			caps := resolver.Resolve(rctx)
			if caps == nil {
				caps = model.CapabilitySet{}
			}
			ctx := context.WithValue(r.Context(), capabilitiesKey{}, caps)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability rejects the request with 403 unless the caller holds cap.
func RequireCapability(cap string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := authorize(r.Context(), cap); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authorize(ctx context.Context, cap string) error {
	caps := CapabilitiesFrom(ctx)
	if caps == nil || caps.Has(cap) {
		return nil
	}
	return model.NewForbiddenError(fmt.Sprintf("Missing capability %s", cap))
}
