//go:build e2e

// Package e2e contains end-to-end integration tests using a real DynamoDB table.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/datastore/dynamods"
	"github.com/jacentio/arbor/orm"
)

// Test configuration
const (
	awsProfile = "jacent-alpha-cp"

	// Table name - unique per test run to avoid conflicts
	tablePrefix = "arbor-e2e-test"
)

var (
	testID      string
	entityTable string

	ddbClient *dynamodb.Client
	testStore *dynamods.Store
	testMeta  *orm.MetaRegistry
)

// --- Test Entities ---

// object is a map-backed Persistable standing in for mapped domain types.
type object struct {
	meta  *orm.ClassMeta
	key   *datastore.Key
	props map[string]any
	rels  map[string]any
}

func (o *object) Meta() *orm.ClassMeta           { return o.meta }
func (o *object) Key() *datastore.Key            { return o.key }
func (o *object) SetKey(k *datastore.Key)        { o.key = k }
func (o *object) Properties() map[string]any     { return o.props }
func (o *object) SetProperties(p map[string]any) { o.props = p }
func (o *object) Relation(field string) any      { return o.rels[field] }
func (o *object) SetRelation(field string, v any) {
	if o.rels == nil {
		o.rels = make(map[string]any)
	}
	o.rels[field] = v
}

func newMeta() *orm.MetaRegistry {
	reg := orm.NewMetaRegistry()

	// Organization owns Studio through a key property; Studio's
	// "organization" field supplies Studio's ancestor.
	orgMeta := &orm.ClassMeta{
		Kind: "Organization",
		Fields: []orm.FieldMeta{
			{Name: "name"},
			{
				Name:       "studio",
				Mapping:    orm.MappingReference,
				Relation:   orm.RelationOneToOneBidir,
				TargetKind: "Studio",
			},
		},
	}
	studioMeta := &orm.ClassMeta{
		Kind: "Studio",
		Fields: []orm.FieldMeta{
			{Name: "name"},
			{
				Name:              "organization",
				Mapping:           orm.MappingReference,
				Relation:          orm.RelationOneToOneBidir,
				ParentKeyProvider: true,
				TargetKind:        "Organization",
			},
		},
	}
	orgMeta.Factory = func() orm.Persistable { return &object{meta: orgMeta} }
	studioMeta.Factory = func() orm.Persistable { return &object{meta: studioMeta} }

	for _, m := range []*orm.ClassMeta{orgMeta, studioMeta} {
		if err := reg.Register(m); err != nil {
			panic(err)
		}
	}
	return reg
}

func newOrg(name string) *object {
	m, _ := testMeta.Lookup("Organization")
	return &object{meta: m, props: map[string]any{"name": name}}
}

func newStudio(name string) *object {
	m, _ := testMeta.Lookup("Studio")
	return &object{meta: m, props: map[string]any{"name": name}}
}

func newSession() *orm.Session {
	return orm.NewSession(testStore, testMeta, nil)
}

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	// Generate unique test ID
	testID = uuid.New().String()[:8]
	entityTable = fmt.Sprintf("%s-%s-entities", tablePrefix, testID)

	fmt.Printf("Test ID: %s\n", testID)
	fmt.Printf("Entity table: %s\n", entityTable)

	// Initialize AWS client (uses region from profile config)
	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(awsProfile),
	)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}

	ddbClient = dynamodb.NewFromConfig(cfg)

	if err := createTable(ctx); err != nil {
		fmt.Printf("Failed to create table: %v\n", err)
		os.Exit(1)
	}

	testStore = dynamods.New(ddbClient, dynamods.Config{Table: entityTable})
	testMeta = newMeta()

	code := m.Run()

	if err := deleteTable(ctx); err != nil {
		fmt.Printf("Failed to delete table: %v\n", err)
	}

	os.Exit(code)
}

func createTable(ctx context.Context) error {
	fmt.Println("Creating test table...")

	_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(entityTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", entityTable, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(ddbClient)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(entityTable),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", entityTable, err)
	}

	fmt.Println("Table ready")
	return nil
}

func deleteTable(ctx context.Context) error {
	fmt.Println("Deleting test table...")
	_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(entityTable),
	})
	if err != nil {
		return fmt.Errorf("delete table %s: %w", entityTable, err)
	}
	return nil
}

// --- Tests ---

func TestPersist_RootEntity(t *testing.T) {
	ctx := context.Background()
	s := newSession()

	org := newOrg("acme-" + testID)
	key, err := s.Persist(ctx, org)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if key.Incomplete() {
		t.Fatalf("expected generated ID, got %v", key)
	}

	e, err := testStore.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Properties["name"] != "acme-"+testID {
		t.Errorf("stored name = %v", e.Properties["name"])
	}
}

func TestPersist_OwnedChild(t *testing.T) {
	ctx := context.Background()
	s := newSession()

	org := newOrg("acme")
	studio := newStudio("ghibli")
	org.SetRelation("studio", studio)
	studio.SetRelation("organization", org)

	orgKey, err := s.Persist(ctx, org)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if !studio.Key().Parent.Equal(orgKey) {
		t.Fatalf("studio key %v not a direct child of %v", studio.Key(), orgKey)
	}

	e, err := testStore.Get(ctx, orgKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, ok := e.Properties["studio"].(*datastore.Key)
	if !ok || !got.Equal(studio.Key()) {
		t.Errorf("studio property = %v, want %v", e.Properties["studio"], studio.Key())
	}
}

func TestPersist_ChildSide_RekeysUnderParent(t *testing.T) {
	ctx := context.Background()
	s := newSession()

	org := newOrg("acme")
	studio := newStudio("ghibli")
	org.SetRelation("studio", studio)
	studio.SetRelation("organization", org)

	studioKey, err := s.Persist(ctx, studio)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if !studioKey.Parent.Equal(org.Key()) {
		t.Fatalf("studio key %v not under %v", studioKey, org.Key())
	}

	// Only the re-keyed record survives; the provisional root record
	// written before the parent resolved must be gone.
	studios, err := testStore.Query(ctx, "Studio", org.Key())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(studios) != 1 {
		t.Fatalf("expected 1 studio under org, got %d", len(studios))
	}

	// The parent's key property references the final key.
	e, err := testStore.Get(ctx, org.Key())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, ok := e.Properties["studio"].(*datastore.Key)
	if !ok || !got.Equal(studioKey) {
		t.Errorf("studio property = %v, want %v", e.Properties["studio"], studioKey)
	}
}

func TestPersist_ParentSwitchRejected(t *testing.T) {
	ctx := context.Background()
	s := newSession()

	orgA := newOrg("acme")
	studio := newStudio("ghibli")
	orgA.SetRelation("studio", studio)
	studio.SetRelation("organization", orgA)
	if _, err := s.Persist(ctx, orgA); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	orgB := newOrg("globex")
	if _, err := s.Persist(ctx, orgB); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	studio.SetRelation("organization", orgB)
	_, err := s.Persist(ctx, studio)
	var wantErr *orm.ChildWithWrongParentError
	if !errors.As(err, &wantErr) {
		t.Fatalf("expected ChildWithWrongParentError, got %v", err)
	}
}

func TestFetchRelation_BothSides(t *testing.T) {
	ctx := context.Background()
	s := newSession()

	org := newOrg("acme")
	studio := newStudio("ghibli")
	org.SetRelation("studio", studio)
	studio.SetRelation("organization", org)
	if _, err := s.Persist(ctx, org); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	parent, err := s.FetchRelation(ctx, studio, "organization")
	if err != nil {
		t.Fatalf("FetchRelation(organization): %v", err)
	}
	if !parent.(orm.Persistable).Key().Equal(org.Key()) {
		t.Errorf("fetched parent %v, want %v", parent.(orm.Persistable).Key(), org.Key())
	}

	child, err := s.FetchRelation(ctx, org, "studio")
	if err != nil {
		t.Fatalf("FetchRelation(studio): %v", err)
	}
	if !child.(orm.Persistable).Key().Equal(studio.Key()) {
		t.Errorf("fetched child %v, want %v", child.(orm.Persistable).Key(), studio.Key())
	}
}

func TestDelete_Entity(t *testing.T) {
	ctx := context.Background()
	s := newSession()

	org := newOrg("doomed")
	key, err := s.Persist(ctx, org)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := s.Delete(ctx, org); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := testStore.Get(ctx, key); !errors.Is(err, datastore.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
