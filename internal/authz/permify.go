// Package authz delegates permission decisions to the Permify policy engine.
//
// Decisions are ephemeral: every protected request is re-checked, because
// the context bag (current hour) changes the answer. Any outcome other than
// an explicit allow (denied, RPC error, engine unreachable) resolves to
// denied.
package authz

import (
	"context"
	"fmt"
	"time"

	v1 "buf.build/gen/go/permifyco/permify/protocolbuffers/go/base/v1"
	permify "github.com/Permify/permify-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dgellow/changebank/internal/log"
)

// Route action names. ActionHome is reserved: it always denies without an
// RPC so the landing page renders the anonymous view even for a valid token.
const (
	ActionHome       = "home"
	ActionAccount    = "account"
	ActionMakeChange = "makechange"
)

// The protected domain object and the subject type in the relationship
// schema.
const (
	entityType  = "bank"
	entityID    = "1"
	subjectType = "user"
)

// businessTimeZone anchors the current_hour context attribute. Open/close
// hours in the schema are defined against this zone.
const businessTimeZone = "America/Denver"

const (
	checkDepth   = 20
	checkTimeout = 5 * time.Second
)

// Gate answers whether a subject may perform an action right now.
type Gate interface {
	Check(ctx context.Context, subjectID, action string) bool
}

// Config configures the gRPC channel to the policy engine.
type Config struct {
	Endpoint     string
	PresharedKey string
	TenantID     string
}

// Option customizes a PermifyGate.
type Option func(*PermifyGate)

// WithClock overrides the time source for the current_hour attribute.
func WithClock(now func() time.Time) Option {
	return func(g *PermifyGate) { g.now = now }
}

// PermifyGate implements Gate against a Permify server.
type PermifyGate struct {
	client   *permify.Client
	tenantID string
	loc      *time.Location
	now      func() time.Time
}

// NewPermifyGate opens the channel to the policy engine. The preshared key
// rides along as a bearer credential on every RPC.
func NewPermifyGate(cfg Config, opts ...Option) (*PermifyGate, error) {
	loc, err := time.LoadLocation(businessTimeZone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %s: %w", businessTimeZone, err)
	}

	client, err := permify.NewClient(
		permify.Config{Endpoint: cfg.Endpoint},
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(presharedKey(cfg.PresharedKey)),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to policy engine: %w", err)
	}

	g := &PermifyGate{
		client:   client,
		tenantID: cfg.TenantID,
		loc:      loc,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Check calls the engine's permission check with the subject, the requested
// action, and the current hour as context. Fail-closed: only an explicit
// CHECK_RESULT_ALLOWED grants access.
func (g *PermifyGate) Check(ctx context.Context, subjectID, action string) bool {
	if action == ActionHome {
		return false
	}
	if subjectID == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	hour := g.now().In(g.loc).Hour()
	data, err := structpb.NewStruct(map[string]any{
		"current_hour": hour,
	})
	if err != nil {
		log.LogErrorWithFields("authz", "Failed to build check context", map[string]any{
			"error": err.Error(),
		})
		return false
	}

	resp, err := g.client.Permission.Check(ctx, &v1.PermissionCheckRequest{
		TenantId: g.tenantID,
		Metadata: &v1.PermissionCheckRequestMetadata{
			SchemaVersion: "",
			Depth:         checkDepth,
		},
		Entity:     &v1.Entity{Type: entityType, Id: entityID},
		Permission: action,
		Subject:    &v1.Subject{Type: subjectType, Id: subjectID},
		Context:    &v1.Context{Data: data},
	})
	if err != nil {
		log.LogErrorWithFields("authz", "Permission check RPC failed", map[string]any{
			"action": action,
			"error":  err.Error(),
		})
		return false
	}

	allowed := resp.GetCan() == v1.CheckResult_CHECK_RESULT_ALLOWED
	log.LogDebugWithFields("authz", "Permission check", map[string]any{
		"action":  action,
		"subject": subjectID,
		"hour":    hour,
		"allowed": allowed,
	})
	return allowed
}

// PresharedKey returns the per-RPC bearer credential used to authenticate
// the policy engine channel. Shared with the seeding command.
func PresharedKey(key string) credentials.PerRPCCredentials {
	return presharedKey(key)
}

// presharedKey sends the engine's bearer credential with each RPC.
type presharedKey string

func (p presharedKey) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(p)}, nil
}

func (p presharedKey) RequireTransportSecurity() bool { return false }
