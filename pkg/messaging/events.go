package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventAllocationRecorded = "ledger.allocation.recorded"
	EventReturnRecorded     = "ledger.return.recorded"
	EventStockReceived      = "ledger.stock.received"
	EventStockTransferred   = "ledger.stock.transferred"
	EventStockWrittenOff    = "ledger.stock.written_off"
	EventItemLineDisabled   = "ledger.item.disabled"
	EventOverrideGranted    = "ledger.override.granted"
)

// Exchange names
const (
	ExchangeLedgerEvents = "ledger.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// AllocationRecordedEvent is published after an item line allocation commits
type AllocationRecordedEvent struct {
	RequestID    string   `json:"request_id"`
	ExperimentID string   `json:"experiment_id"`
	ItemLineID   string   `json:"item_line_id"`
	ItemType     string   `json:"item_type"`
	Quantity     string   `json:"quantity,omitempty"`
	ItemIDs      []string `json:"item_ids,omitempty"`
	ToLocation   string   `json:"to_location"`
	AllocatedBy  string   `json:"allocated_by"`
}

// ReturnRecordedEvent is published after an item line return commits
type ReturnRecordedEvent struct {
	RequestID    string   `json:"request_id"`
	ExperimentID string   `json:"experiment_id"`
	ItemLineID   string   `json:"item_line_id"`
	ItemType     string   `json:"item_type"`
	Quantity     string   `json:"quantity,omitempty"`
	ItemIDs      []string `json:"item_ids,omitempty"`
	ToLocation   string   `json:"to_location"`
	ReturnedBy   string   `json:"returned_by"`
}

// StockReceivedEvent is published when a batch enters the central store
type StockReceivedEvent struct {
	StockRecordID string `json:"stock_record_id"`
	ProductID     string `json:"product_id"`
	Variant       string `json:"variant"`
	Location      string `json:"location"`
	Quantity      string `json:"quantity"`
	ReceivedBy    string `json:"received_by"`
}

// StockTransferredEvent is published when stock moves between locations
type StockTransferredEvent struct {
	ProductID    string `json:"product_id"`
	Variant      string `json:"variant"`
	FromLocation string `json:"from_location"`
	ToLocation   string `json:"to_location"`
	Quantity     string `json:"quantity"`
	MovedBy      string `json:"moved_by"`
}

// StockWrittenOffEvent is published on loss/breakage write-offs
type StockWrittenOffEvent struct {
	StockRecordID string `json:"stock_record_id"`
	ProductID     string `json:"product_id"`
	Location      string `json:"location"`
	Quantity      string `json:"quantity"`
	Reason        string `json:"reason"`
	RecordedBy    string `json:"recorded_by"`
}

// ItemLineDisabledEvent is published when a line is administratively excluded
type ItemLineDisabledEvent struct {
	ItemLineID string `json:"item_line_id"`
	Disabled   bool   `json:"disabled"`
	Reason     string `json:"reason,omitempty"`
	ChangedBy  string `json:"changed_by"`
}

// OverrideGrantedEvent is published when an admin override is recorded
type OverrideGrantedEvent struct {
	ExperimentID string `json:"experiment_id"`
	Reason       string `json:"reason"`
	GrantedBy    string `json:"granted_by"`
}
