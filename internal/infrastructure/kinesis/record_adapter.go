package kinesis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/medsupply-storefront/internal/domain/cart"
)

// StreamSource tags changes relayed from the DynamoDB line item table.
const StreamSource = "dynamodb-stream"

// ConvertFromKinesisRecord converts a Kinesis record (DynamoDB Streams format)
// written by the line item table into a cart change.
func ConvertFromKinesisRecord(record events.KinesisEventRecord) (*cart.Change, error) {
	var dynamoDBRecord events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &dynamoDBRecord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DynamoDB record: %w", err)
	}
	return ConvertFromDynamoDBStreamRecord(dynamoDBRecord)
}

// ConvertFromDynamoDBStreamRecord converts a DynamoDB Stream record to a cart
// change. Records of other tables return nil.
func ConvertFromDynamoDBStreamRecord(record events.DynamoDBEventRecord) (*cart.Change, error) {
	var kind cart.ChangeKind
	switch record.EventName {
	case "INSERT":
		kind = cart.LineItemAdded
	case "MODIFY":
		kind = cart.QuantityUpdated
	case "REMOVE":
		kind = cart.LineItemRemoved
	default:
		return nil, fmt.Errorf("unknown stream event %q", record.EventName)
	}

	keys := record.Change.Keys
	if keys == nil {
		return nil, fmt.Errorf("DynamoDB keys are nil")
	}
	partition, ok := stringAttr(keys, "store")
	if !ok {
		return nil, nil
	}
	id, _ := stringAttr(keys, "id")

	namespace, err := namespaceOf(partition)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("missing line item id in partition %s", partition)
	}

	return &cart.Change{
		Namespace:  namespace,
		Source:     StreamSource,
		Kind:       kind,
		LineItemID: id,
		At:         record.Change.ApproximateCreationDateTime.Time,
	}, nil
}

func stringAttr(image map[string]events.DynamoDBAttributeValue, name string) (string, bool) {
	v, ok := image[name]
	if !ok || v.DataType() != events.DataTypeString {
		return "", false
	}
	return v.String(), true
}

// namespaceOf extracts the namespace from a "<database>#<namespace>#<store>"
// partition key.
func namespaceOf(partition string) (string, error) {
	first := strings.Index(partition, "#")
	last := strings.LastIndex(partition, "#")
	if first < 0 || first == last || last == first+1 {
		return "", fmt.Errorf("malformed partition key %q", partition)
	}
	return partition[first+1 : last], nil
}

// Converted pairs a change with the sequence number of the record it came from.
type Converted struct {
	SequenceNumber string
	Change         *cart.Change
}

// BatchConvertFromKinesisEvent converts all records from a Kinesis event.
// Returns the converted changes and the records that failed, by sequence number.
func BatchConvertFromKinesisEvent(kinesisEvent events.KinesisEvent) ([]Converted, map[string]error) {
	var changes []Converted
	failed := make(map[string]error)

	for _, record := range kinesisEvent.Records {
		change, err := ConvertFromKinesisRecord(record)
		if err != nil {
			failed[record.Kinesis.SequenceNumber] = fmt.Errorf("record %s: %w", record.EventID, err)
			continue
		}
		if change != nil {
			changes = append(changes, Converted{SequenceNumber: record.Kinesis.SequenceNumber, Change: change})
		}
	}

	return changes, failed
}
