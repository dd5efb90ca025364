package kinesis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/medsupply-storefront/internal/domain/cart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lineItemRecord(eventName, partition, id string) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventName: eventName,
		Change: events.DynamoDBStreamRecord{
			ApproximateCreationDateTime: events.SecondsEpochTime{Time: time.Unix(1710408600, 0)},
			Keys: map[string]events.DynamoDBAttributeValue{
				"store": events.NewStringAttribute(partition),
				"id":    events.NewStringAttribute(id),
			},
		},
	}
}

func TestConvertFromDynamoDBStreamRecord(t *testing.T) {
	tests := []struct {
		name     string
		record   events.DynamoDBEventRecord
		wantKind cart.ChangeKind
		wantNS   string
		wantNil  bool
		wantErr  bool
	}{
		{
			name:     "insert",
			record:   lineItemRecord("INSERT", "medsupply#origin#cart_items", "item-1"),
			wantKind: cart.LineItemAdded,
			wantNS:   "origin",
		},
		{
			name:     "modify",
			record:   lineItemRecord("MODIFY", "medsupply#origin#cart_items", "item-1"),
			wantKind: cart.QuantityUpdated,
			wantNS:   "origin",
		},
		{
			name:     "remove",
			record:   lineItemRecord("REMOVE", "medsupply#origin#cart_items", "item-1"),
			wantKind: cart.LineItemRemoved,
			wantNS:   "origin",
		},
		{
			name:     "namespace containing separator",
			record:   lineItemRecord("INSERT", "medsupply#tenant#7#cart_items", "item-1"),
			wantKind: cart.LineItemAdded,
			wantNS:   "tenant#7",
		},
		{
			name: "record of another table",
			record: events.DynamoDBEventRecord{
				EventName: "INSERT",
				Change: events.DynamoDBStreamRecord{
					Keys: map[string]events.DynamoDBAttributeValue{
						"aggregate_id": events.NewStringAttribute("product-456"),
					},
				},
			},
			wantNil: true,
		},
		{
			name:    "malformed partition",
			record:  lineItemRecord("INSERT", "origin", "item-1"),
			wantErr: true,
		},
		{
			name:    "missing keys",
			record:  events.DynamoDBEventRecord{EventName: "INSERT"},
			wantErr: true,
		},
		{
			name:    "unknown event",
			record:  lineItemRecord("TRUNCATE", "medsupply#origin#cart_items", "item-1"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change, err := ConvertFromDynamoDBStreamRecord(tt.record)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, change)
				return
			}

			require.NotNil(t, change)
			assert.Equal(t, tt.wantKind, change.Kind)
			assert.Equal(t, tt.wantNS, change.Namespace)
			assert.Equal(t, "item-1", change.LineItemID)
			assert.Equal(t, StreamSource, change.Source)
			assert.Equal(t, int64(1710408600), change.At.Unix())
		})
	}
}

func TestConvertFromKinesisRecord(t *testing.T) {
	dynamoRecordJSON, err := json.Marshal(lineItemRecord("INSERT", "medsupply#session-9#cart_items", "item-123"))
	require.NoError(t, err)

	kinesisRecord := events.KinesisEventRecord{
		EventID: "kinesis-event-1",
		Kinesis: events.KinesisRecord{
			Data: dynamoRecordJSON,
		},
	}

	change, err := ConvertFromKinesisRecord(kinesisRecord)
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, "session-9", change.Namespace)
	assert.Equal(t, "item-123", change.LineItemID)
}

func TestBatchConvertFromKinesisEvent(t *testing.T) {
	validJSON, _ := json.Marshal(lineItemRecord("INSERT", "medsupply#origin#cart_items", "item-1"))
	removeJSON, _ := json.Marshal(lineItemRecord("REMOVE", "medsupply#origin#cart_items", "item-2"))

	kinesisEvent := events.KinesisEvent{
		Records: []events.KinesisEventRecord{
			{EventID: "1", Kinesis: events.KinesisRecord{SequenceNumber: "100", Data: validJSON}},
			{EventID: "2", Kinesis: events.KinesisRecord{SequenceNumber: "101", Data: removeJSON}},
			{EventID: "3", Kinesis: events.KinesisRecord{SequenceNumber: "102", Data: []byte("invalid json")}},
		},
	}

	changes, failed := BatchConvertFromKinesisEvent(kinesisEvent)

	require.Len(t, changes, 2)
	assert.Equal(t, "100", changes[0].SequenceNumber)
	assert.Equal(t, cart.LineItemAdded, changes[0].Change.Kind)
	assert.Equal(t, "101", changes[1].SequenceNumber)
	assert.Equal(t, cart.LineItemRemoved, changes[1].Change.Kind)
	assert.Len(t, failed, 1)
	assert.Contains(t, failed, "102")
}
