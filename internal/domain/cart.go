package domain

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "active"
	ItemStatusReserved ItemStatus = "reserved"
	ItemStatusExpired  ItemStatus = "expired"
)

const (
	MinItemQuantity = 1
	MaxItemQuantity = 10
)

const tempItemPrefix = "temp-"

var tempItemSeq atomic.Uint64

type Cart struct {
	ID              string     `json:"id"`
	Items           []CartItem `json:"items"`
	ItemCount       int        `json:"itemCount"`
	Subtotal        float64    `json:"subtotal"`
	Tax             float64    `json:"tax"`
	Total           float64    `json:"total"`
	PromotionalCode string     `json:"promotionalCode,omitempty"`
	Discount        float64    `json:"discount"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type CartItem struct {
	ID              string     `json:"id"`
	CartID          string     `json:"cartId"`
	VehicleID       string     `json:"vehicleId"`
	ConfigurationID string     `json:"configurationId"`
	Quantity        int        `json:"quantity"`
	UnitPrice       float64    `json:"unitPrice"`
	TotalPrice      float64    `json:"totalPrice"`
	Status          ItemStatus `json:"status"`
	ReservedUntil   *time.Time `json:"reservedUntil,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy. Snapshots handed to the reducer must never share
// an items slice with the live cart.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Items != nil {
		cp.Items = make([]CartItem, len(c.Items))
		for i, item := range c.Items {
			cp.Items[i] = item.clone()
		}
	}
	return &cp
}

// FindItem returns the index of the item with the given id, or -1.
func (c *Cart) FindItem(itemID string) int {
	if c == nil {
		return -1
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) HasPromotionalCode() bool {
	return c != nil && c.PromotionalCode != ""
}

func (i CartItem) clone() CartItem {
	if i.ReservedUntil != nil {
		t := *i.ReservedUntil
		i.ReservedUntil = &t
	}
	return i
}

// ReconciliationKey identifies a configured vehicle line independently of its
// id, so a temp item can be matched with the server item that replaced it.
func (i CartItem) ReconciliationKey() string {
	return i.VehicleID + "|" + i.ConfigurationID
}

func (i CartItem) IsTemporary() bool {
	return IsTempItemID(i.ID)
}

// NewTempItemID returns a placeholder id for an item the server has not
// confirmed yet. Ids minted in the same millisecond differ by their sequence.
func NewTempItemID(now time.Time) string {
	return fmt.Sprintf("%s%d-%d", tempItemPrefix, now.UnixMilli(), tempItemSeq.Add(1))
}

func IsTempItemID(id string) bool {
	return strings.HasPrefix(id, tempItemPrefix)
}

func ValidQuantity(quantity int) bool {
	return quantity >= MinItemQuantity && quantity <= MaxItemQuantity
}
