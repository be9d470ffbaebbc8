package authz

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	basev1grpc "buf.build/gen/go/permifyco/permify/grpc/go/base/v1/basev1grpc"
	v1 "buf.build/gen/go/permifyco/permify/protocolbuffers/go/base/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type fakeEngine struct {
	basev1grpc.UnimplementedPermissionServer
	calls atomic.Int64
	check func(ctx context.Context, req *v1.PermissionCheckRequest) (*v1.PermissionCheckResponse, error)
}

func (f *fakeEngine) Check(ctx context.Context, req *v1.PermissionCheckRequest) (*v1.PermissionCheckResponse, error) {
	f.calls.Add(1)
	return f.check(ctx, req)
}

func allow() (*v1.PermissionCheckResponse, error) {
	return &v1.PermissionCheckResponse{Can: v1.CheckResult_CHECK_RESULT_ALLOWED}, nil
}

func deny() (*v1.PermissionCheckResponse, error) {
	return &v1.PermissionCheckResponse{Can: v1.CheckResult_CHECK_RESULT_DENIED}, nil
}

func startEngine(t *testing.T, f *fakeEngine) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	basev1grpc.RegisterPermissionServer(srv, f)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return lis.Addr().String()
}

func newGate(t *testing.T, endpoint string, opts ...Option) *PermifyGate {
	t.Helper()
	g, err := NewPermifyGate(Config{
		Endpoint:     endpoint,
		PresharedKey: "psk-test",
		TenantID:     "t1",
	}, opts...)
	require.NoError(t, err)
	return g
}

func denverTime(t *testing.T, hour int) func() time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)
	return func() time.Time {
		return time.Date(2026, time.January, 15, hour, 30, 0, 0, loc)
	}
}

func TestCheck(t *testing.T) {
	t.Run("allowed result grants", func(t *testing.T) {
		var gotReq *v1.PermissionCheckRequest
		var gotAuth []string
		engine := &fakeEngine{check: func(ctx context.Context, req *v1.PermissionCheckRequest) (*v1.PermissionCheckResponse, error) {
			gotReq = req
			if md, ok := metadata.FromIncomingContext(ctx); ok {
				gotAuth = md.Get("authorization")
			}
			return allow()
		}}
		g := newGate(t, startEngine(t, engine), WithClock(denverTime(t, 10)))

		assert.True(t, g.Check(context.Background(), "user-1", ActionAccount))

		require.NotNil(t, gotReq)
		assert.Equal(t, "t1", gotReq.GetTenantId())
		assert.Equal(t, "bank", gotReq.GetEntity().GetType())
		assert.Equal(t, "1", gotReq.GetEntity().GetId())
		assert.Equal(t, "account", gotReq.GetPermission())
		assert.Equal(t, "user", gotReq.GetSubject().GetType())
		assert.Equal(t, "user-1", gotReq.GetSubject().GetId())
		assert.Equal(t, int32(20), gotReq.GetMetadata().GetDepth())
		hour := gotReq.GetContext().GetData().GetFields()["current_hour"].GetNumberValue()
		assert.Equal(t, float64(10), hour)
		require.Len(t, gotAuth, 1)
		assert.Equal(t, "Bearer psk-test", gotAuth[0])
	})

	t.Run("denied result", func(t *testing.T) {
		engine := &fakeEngine{check: func(context.Context, *v1.PermissionCheckRequest) (*v1.PermissionCheckResponse, error) {
			return deny()
		}}
		g := newGate(t, startEngine(t, engine))

		assert.False(t, g.Check(context.Background(), "user-1", ActionAccount))
	})

	t.Run("RPC error resolves to denied", func(t *testing.T) {
		engine := &fakeEngine{check: func(context.Context, *v1.PermissionCheckRequest) (*v1.PermissionCheckResponse, error) {
			return nil, errors.New("engine exploded")
		}}
		g := newGate(t, startEngine(t, engine))

		assert.False(t, g.Check(context.Background(), "user-1", ActionMakeChange))
	})

	t.Run("unreachable engine resolves to denied", func(t *testing.T) {
		g := newGate(t, "127.0.0.1:1")

		assert.False(t, g.Check(context.Background(), "user-1", ActionAccount))
	})

	t.Run("home action denies without an RPC", func(t *testing.T) {
		engine := &fakeEngine{check: func(context.Context, *v1.PermissionCheckRequest) (*v1.PermissionCheckResponse, error) {
			return allow()
		}}
		g := newGate(t, startEngine(t, engine))

		assert.False(t, g.Check(context.Background(), "user-1", ActionHome))
		assert.Equal(t, int64(0), engine.calls.Load())
	})

	t.Run("empty subject denies without an RPC", func(t *testing.T) {
		engine := &fakeEngine{check: func(context.Context, *v1.PermissionCheckRequest) (*v1.PermissionCheckResponse, error) {
			return allow()
		}}
		g := newGate(t, startEngine(t, engine))

		assert.False(t, g.Check(context.Background(), "", ActionAccount))
		assert.Equal(t, int64(0), engine.calls.Load())
	})

	t.Run("identical subject, differing hour", func(t *testing.T) {
		// Engine mimics the open_hour/close_hour attribute rule.
		engine := &fakeEngine{check: func(_ context.Context, req *v1.PermissionCheckRequest) (*v1.PermissionCheckResponse, error) {
			hour := int(req.GetContext().GetData().GetFields()["current_hour"].GetNumberValue())
			if hour >= 7 && hour <= 17 {
				return allow()
			}
			return deny()
		}}
		endpoint := startEngine(t, engine)

		business := newGate(t, endpoint, WithClock(denverTime(t, 10)))
		assert.True(t, business.Check(context.Background(), "user-1", ActionMakeChange))

		evening := newGate(t, endpoint, WithClock(denverTime(t, 20)))
		assert.False(t, evening.Check(context.Background(), "user-1", ActionMakeChange))
	})
}
