package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/example/medsupply-storefront/internal/domain/cart"
)

const (
	dynamoSubProductIndex = "sub_product_id-index"
	maxDynamoTxItems      = 100
	maxDynamoTxAttempts   = 10
	dynamoTableWait       = 2 * time.Minute

	// The cart version lives beside the items under its own partition key
	// so item queries never return it.
	dynamoVersionSuffix = "#version"
	dynamoVersionID     = "cart"
)

// DynamoAPI is the part of the DynamoDB client used by DynamoBackend.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoBackend stores line items in a DynamoDB table partitioned by
// "<database>#<namespace>#<store>". Units are buffered and committed with
// TransactWriteItems together with a conditional bump of the cart version
// item, so two processes writing the same cart cannot both commit units read
// from the same version. Reads are not isolated, so the cart store still
// queues updates within a process.
type DynamoBackend struct {
	client     DynamoAPI
	table      string
	partition  string
	indexReady bool
}

// dynamoLineItem represents the DynamoDB item structure
type dynamoLineItem struct {
	Store        string `dynamodbav:"store"`
	ID           string `dynamodbav:"id"`
	ProductID    string `dynamodbav:"product_id"`
	SubProductID string `dynamodbav:"sub_product_id"`
	Name         string `dynamodbav:"name"`
	Image        string `dynamodbav:"image"`
	Quantity     int    `dynamodbav:"quantity"`
	Size         string `dynamodbav:"size"`
	Shape        string `dynamodbav:"shape"`
	AddedAt      string `dynamodbav:"added_at"`
	UpdatedAt    string `dynamodbav:"updated_at"`
}

// NewDynamoBackend returns a backend for one namespace. indexReady reports
// whether the table carries the sub product index (see EnsureDynamoTable).
func NewDynamoBackend(client DynamoAPI, table, database, objectStore, namespace string, indexReady bool) *DynamoBackend {
	return &DynamoBackend{
		client:     client,
		table:      table,
		partition:  database + "#" + namespace + "#" + objectStore,
		indexReady: indexReady,
	}
}

// Update reads the cart version, runs fn against a write buffer and commits
// the buffer on condition that the version is unchanged. A unit that loses
// the race is run again.
func (b *DynamoBackend) Update(ctx context.Context, fn func(cart.Tx) error) error {
	for attempt := 0; attempt < maxDynamoTxAttempts; attempt++ {
		version, err := b.version(ctx)
		if err != nil {
			return unreachable(err)
		}
		tx := &dynamoTx{ctx: ctx, backend: b, writes: newWriteSet()}
		if err := fn(tx); err != nil {
			return err
		}
		err = b.commit(ctx, tx.writes, version)
		if conflicted(err) {
			continue
		}
		return unreachable(err)
	}
	return fmt.Errorf("dynamodb: cart transaction still conflicting after %d attempts", maxDynamoTxAttempts)
}

func (b *DynamoBackend) View(ctx context.Context, fn func(cart.Tx) error) error {
	return unreachable(fn(&dynamoTx{ctx: ctx, backend: b, readOnly: true}))
}

func (b *DynamoBackend) Isolated() bool {
	return false
}

// Close is a no-op; the client is shared between namespaces.
func (b *DynamoBackend) Close() error {
	return nil
}

func (b *DynamoBackend) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"store": &types.AttributeValueMemberS{Value: b.partition},
		"id":    &types.AttributeValueMemberS{Value: id},
	}
}

func (b *DynamoBackend) versionKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"store": &types.AttributeValueMemberS{Value: b.partition + dynamoVersionSuffix},
		"id":    &types.AttributeValueMemberS{Value: dynamoVersionID},
	}
}

// version returns the committed cart version, zero before the first write.
func (b *DynamoBackend) version(ctx context.Context) (int64, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		Key:            b.versionKey(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read cart version: %w", err)
	}
	if len(out.Item) == 0 {
		return 0, nil
	}
	var v struct {
		Version int64 `dynamodbav:"version"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &v); err != nil {
		return 0, fmt.Errorf("failed to unmarshal cart version: %w", err)
	}
	return v.Version, nil
}

// versionGuard moves the cart version from version to version+1 and fails
// the transaction when another unit has moved it first.
func (b *DynamoBackend) versionGuard(version int64) types.TransactWriteItem {
	item := b.versionKey()
	item["version"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(version+1, 10)}
	put := &types.Put{
		TableName:                aws.String(b.table),
		Item:                     item,
		ExpressionAttributeNames: map[string]string{"#v": "version"},
	}
	if version == 0 {
		put.ConditionExpression = aws.String("attribute_not_exists(#v)")
	} else {
		put.ConditionExpression = aws.String("#v = :v")
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
		}
	}
	return types.TransactWriteItem{Put: put}
}

// conflicted reports whether a transaction was cancelled by a failed
// condition, i.e. the cart version moved under the unit.
func conflicted(err error) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false
	}
	for _, reason := range canceled.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

// commit writes the buffered unit behind the version guard. A unit larger
// than one DynamoDB transaction is split with the guard in the first part;
// only clearing a large cart produces one.
func (b *DynamoBackend) commit(ctx context.Context, writes *writeSet, version int64) error {
	if writes.empty() {
		return nil
	}

	ops := make([]types.TransactWriteItem, 0, writes.size()+1)
	ops = append(ops, b.versionGuard(version))
	for id := range writes.deletes {
		ops = append(ops, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(b.table),
				Key:       b.key(id),
			},
		})
	}
	for _, item := range writes.puts {
		av, err := attributevalue.MarshalMap(b.toDynamo(item))
		if err != nil {
			return fmt.Errorf("failed to marshal line item: %w", err)
		}
		ops = append(ops, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(b.table),
				Item:      av,
			},
		})
	}

	for start := 0; start < len(ops); start += maxDynamoTxItems {
		end := min(start+maxDynamoTxItems, len(ops))
		if _, err := b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: ops[start:end],
		}); err != nil {
			return fmt.Errorf("failed to write line items: %w", err)
		}
	}
	return nil
}

func (b *DynamoBackend) toDynamo(item cart.LineItem) dynamoLineItem {
	return dynamoLineItem{
		Store:        b.partition,
		ID:           item.ID,
		ProductID:    item.ProductID,
		SubProductID: item.SubProductID,
		Name:         item.Name,
		Image:        item.Image,
		Quantity:     item.Quantity,
		Size:         item.Size,
		Shape:        item.Shape,
		AddedAt:      item.AddedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    item.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromDynamo(av map[string]types.AttributeValue) (cart.LineItem, error) {
	var d dynamoLineItem
	if err := attributevalue.UnmarshalMap(av, &d); err != nil {
		return cart.LineItem{}, fmt.Errorf("failed to unmarshal line item: %w", err)
	}
	addedAt, err := time.Parse(time.RFC3339Nano, d.AddedAt)
	if err != nil {
		return cart.LineItem{}, fmt.Errorf("line item %s: added_at: %w", d.ID, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, d.UpdatedAt)
	if err != nil {
		return cart.LineItem{}, fmt.Errorf("line item %s: updated_at: %w", d.ID, err)
	}
	return cart.LineItem{
		ID:           d.ID,
		ProductID:    d.ProductID,
		SubProductID: d.SubProductID,
		Name:         d.Name,
		Image:        d.Image,
		Quantity:     d.Quantity,
		Size:         d.Size,
		Shape:        d.Shape,
		AddedAt:      addedAt,
		UpdatedAt:    updatedAt,
	}, nil
}

type dynamoTx struct {
	ctx      context.Context
	backend  *DynamoBackend
	writes   *writeSet
	readOnly bool
}

func (t *dynamoTx) committed(id string) (cart.LineItem, bool, error) {
	b := t.backend
	out, err := b.client.GetItem(t.ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		Key:            b.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return cart.LineItem{}, false, err
	}
	if len(out.Item) == 0 {
		return cart.LineItem{}, false, nil
	}
	item, err := fromDynamo(out.Item)
	if err != nil {
		return cart.LineItem{}, false, err
	}
	return item, true, nil
}

func (t *dynamoTx) Get(id string) (cart.LineItem, bool, error) {
	if t.writes == nil {
		return t.committed(id)
	}
	return t.writes.get(id, t.committed)
}

func (t *dynamoTx) BySubProduct(subProductID string) ([]cart.LineItem, error) {
	b := t.backend
	input := &dynamodb.QueryInput{
		TableName:                aws.String(b.table),
		ConsistentRead:           aws.Bool(true),
		ExpressionAttributeNames: map[string]string{"#store": "store"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":store": &types.AttributeValueMemberS{Value: b.partition},
			":sub":   &types.AttributeValueMemberS{Value: subProductID},
		},
	}
	if b.indexReady {
		input.IndexName = aws.String(dynamoSubProductIndex)
		input.KeyConditionExpression = aws.String("#store = :store AND sub_product_id = :sub")
	} else {
		input.KeyConditionExpression = aws.String("#store = :store")
		input.FilterExpression = aws.String("sub_product_id = :sub")
	}

	items, err := t.query(input)
	if err != nil {
		return nil, err
	}
	if t.writes == nil {
		return items, nil
	}
	return t.writes.merge(items, func(item cart.LineItem) bool {
		return item.SubProductID == subProductID
	}), nil
}

func (t *dynamoTx) List() ([]cart.LineItem, error) {
	items, err := t.query(&dynamodb.QueryInput{
		TableName:                aws.String(t.backend.table),
		ConsistentRead:           aws.Bool(true),
		KeyConditionExpression:   aws.String("#store = :store"),
		ExpressionAttributeNames: map[string]string{"#store": "store"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":store": &types.AttributeValueMemberS{Value: t.backend.partition},
		},
	})
	if err != nil {
		return nil, err
	}
	if t.writes == nil {
		return items, nil
	}
	return t.writes.merge(items, nil), nil
}

func (t *dynamoTx) query(input *dynamodb.QueryInput) ([]cart.LineItem, error) {
	var items []cart.LineItem
	for {
		out, err := t.backend.client.Query(t.ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query line items: %w", err)
		}
		for _, av := range out.Items {
			item, err := fromDynamo(av)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (t *dynamoTx) Put(item cart.LineItem) error {
	if t.readOnly {
		return errReadOnly
	}
	t.writes.put(item)
	return nil
}

func (t *dynamoTx) Delete(id string) error {
	if t.readOnly {
		return errReadOnly
	}
	return t.writes.delete(id, t.committed)
}

func (t *dynamoTx) DeleteAll() error {
	if t.readOnly {
		return errReadOnly
	}
	items, err := t.List()
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := t.Delete(item.ID); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDynamoTable creates the line item table with its sub product index
// when it does not exist. It reports whether the index is available; tables
// created elsewhere without it fall back to filtered queries.
func EnsureDynamoTable(ctx context.Context, client DynamoAPI, table string) (bool, error) {
	out, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		for _, idx := range out.Table.LocalSecondaryIndexes {
			if aws.ToString(idx.IndexName) == dynamoSubProductIndex {
				return true, nil
			}
		}
		return false, nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return false, cart.Unavailable(err)
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("store"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sub_product_id"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("store"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeRange},
		},
		LocalSecondaryIndexes: []types.LocalSecondaryIndex{
			{
				IndexName: aws.String(dynamoSubProductIndex),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("store"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("sub_product_id"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return false, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, dynamoTableWait); err != nil {
		return false, cart.Unavailable(err)
	}
	return true, nil
}

// NewDynamoClient loads the default AWS configuration for region. A non-empty
// endpoint overrides the service endpoint (DynamoDB Local, LocalStack).
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}
