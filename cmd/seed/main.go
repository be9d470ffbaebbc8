// Command seed loads the relationship schema, tuples, and attributes into
// the policy engine. Run once against a fresh Permify instance before
// starting the gateway.
package main

import (
	"context"
	_ "embed"
	"flag"
	"os"
	"time"

	v1 "buf.build/gen/go/permifyco/permify/protocolbuffers/go/base/v1"
	permify "github.com/Permify/permify-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/dgellow/changebank/internal/authz"
	"github.com/dgellow/changebank/internal/log"
)

//go:embed authmodel.perm
var defaultAuthModel string

// The demo bank with its opening hours and three staff members. Subject ids
// match the identity provider's seeded users.
const (
	openHour  = 7
	closeHour = 17
)

var relationships = []struct {
	relation string
	userID   string
}{
	{"vp", "00000000-0000-0000-0000-000000000001"},
	{"member", "00000000-0000-0000-0000-111111111111"},
	{"teller", "00000000-0000-0000-0000-222222222222"},
}

func main() {
	schemaPath := flag.String("schema", "", "path to a schema file (defaults to the embedded model)")
	flag.Parse()

	presharedKey := os.Getenv("PRESHARED_KEY")
	if presharedKey == "" {
		log.LogError("Missing PRESHARED_KEY from environment")
		os.Exit(1)
	}
	endpoint := os.Getenv("PERMIFY_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:3478"
	}
	tenantID := os.Getenv("TENANT_ID")
	if tenantID == "" {
		tenantID = "t1"
	}

	schema := defaultAuthModel
	if *schemaPath != "" {
		data, err := os.ReadFile(*schemaPath)
		if err != nil {
			log.LogError("Failed to read schema file: %v", err)
			os.Exit(1)
		}
		schema = string(data)
	}

	client, err := permify.NewClient(
		permify.Config{Endpoint: endpoint},
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(authz.PresharedKey(presharedKey)),
	)
	if err != nil {
		log.LogError("Failed to connect to policy engine: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := writeSchema(ctx, client, tenantID, schema); err != nil {
		log.LogError("Schema write failed: %v", err)
		os.Exit(1)
	}
	if err := writeData(ctx, client, tenantID); err != nil {
		log.LogError("Data write failed: %v", err)
		os.Exit(1)
	}

	log.Logf("Seeding complete")
}

func writeSchema(ctx context.Context, client *permify.Client, tenantID, schema string) error {
	resp, err := client.Schema.Write(ctx, &v1.SchemaWriteRequest{
		TenantId: tenantID,
		Schema:   schema,
	})
	if err != nil {
		return err
	}

	log.LogInfoWithFields("seed", "Schema written", map[string]any{
		"schemaVersion": resp.GetSchemaVersion(),
	})
	return nil
}

func writeData(ctx context.Context, client *permify.Client, tenantID string) error {
	bank := &v1.Entity{Type: "bank", Id: "1"}

	tuples := make([]*v1.Tuple, 0, len(relationships))
	for _, r := range relationships {
		tuples = append(tuples, &v1.Tuple{
			Entity:   bank,
			Relation: r.relation,
			Subject:  &v1.Subject{Type: "user", Id: r.userID},
		})
	}

	open, err := anypb.New(&v1.IntegerValue{Data: openHour})
	if err != nil {
		return err
	}
	closed, err := anypb.New(&v1.IntegerValue{Data: closeHour})
	if err != nil {
		return err
	}

	resp, err := client.Data.Write(ctx, &v1.DataWriteRequest{
		TenantId: tenantID,
		Metadata: &v1.DataWriteRequestMetadata{},
		Tuples:   tuples,
		Attributes: []*v1.Attribute{
			{Entity: bank, Attribute: "open_hour", Value: open},
			{Entity: bank, Attribute: "close_hour", Value: closed},
		},
	})
	if err != nil {
		return err
	}

	log.LogInfoWithFields("seed", "Data written", map[string]any{
		"snapToken": resp.GetSnapToken(),
		"tuples":    len(tuples),
	})
	return nil
}
