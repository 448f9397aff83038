package poold

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"omnipool/core/types"
)

// Record is the indexed form of one committed pool event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence   uint64    `gorm:"uniqueIndex;not null" json:"sequence"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Account    string    `gorm:"size:42;index" json:"account,omitempty"`
	Caller     string    `gorm:"size:42" json:"caller,omitempty"`
	Asset      string    `gorm:"size:42;index" json:"asset,omitempty"`
	Amount     string    `gorm:"size:80" json:"amount,omitempty"`
	Fee        string    `gorm:"size:80" json:"fee,omitempty"`
	OrderID    string    `gorm:"size:80" json:"orderId,omitempty"`
	Attributes string    `gorm:"type:text" json:"attributes"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// BeforeCreate assigns a random identifier when none was supplied.
func (r *Record) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// NewRecord flattens an event into its indexed columns. The account column
// holds the credited or debited custody account when the event names one.
func NewRecord(seq uint64, at time.Time, evt *types.Event) (*Record, error) {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		Sequence:   seq,
		Type:       evt.Type,
		Account:    firstAttr(evt, "user", "recipient", "address"),
		Caller:     evt.Attr("caller"),
		Asset:      firstAttr(evt, "asset", "srcAsset"),
		Amount:     firstAttr(evt, "amount", "amountInclFee"),
		Fee:        evt.Attr("fee"),
		OrderID:    evt.Attr("orderId"),
		Attributes: string(attrs),
		CreatedAt:  at.UTC(),
	}
	if rec.OrderID == "" {
		if ref := evt.Attr("routerOrOrder"); ref != "" && !strings.HasPrefix(ref, "0x") {
			rec.OrderID = ref
		}
	}
	return rec, nil
}

// Event reconstructs the event carried by the record.
func (r *Record) Event() (*types.Event, error) {
	evt := &types.Event{Type: r.Type, Attributes: map[string]string{}}
	if strings.TrimSpace(r.Attributes) == "" {
		return evt, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &evt.Attributes); err != nil {
		return nil, err
	}
	return evt, nil
}

func firstAttr(evt *types.Event, keys ...string) string {
	for _, key := range keys {
		if v := evt.Attr(key); v != "" {
			return v
		}
	}
	return ""
}
