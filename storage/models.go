package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckpointID is the primary key of the singleton checkpoint row
const CheckpointID = 1

// Checkpoint holds the next EVM block to scan and the last indexed ledger block
type Checkpoint struct {
	ID              uint      `gorm:"primaryKey;autoIncrement:false" json:"-"`
	EthereumHeight  uint64    `gorm:"column:ethereum_height;not null" json:"ethereum_height"`
	ChainflipHeight uint64    `gorm:"column:chainflip_height;not null" json:"chainflip_height"`
	UpdatedAt       time.Time `gorm:"column:updated_at" json:"-"`
}

// TableName returns the table name
func (Checkpoint) TableName() string {
	return "checkpoints"
}

// Stake is principal committed on the EVM chain and credited on the ledger
type Stake struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Hash            *string         `gorm:"column:hash;type:varchar(66);uniqueIndex" json:"hash"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	Address         string          `gorm:"column:address;type:varchar(64);index;not null" json:"address"`
	InitiatedHeight *uint64         `gorm:"column:initiated_height" json:"initiated_height"`
	CompletedHeight *uint64         `gorm:"column:completed_height" json:"completed_height"`
	CreatedAt       time.Time       `gorm:"column:created_at" json:"-"`
	UpdatedAt       time.Time       `gorm:"column:updated_at" json:"-"`
}

// TableName returns the table name
func (Stake) TableName() string {
	return "stakes"
}

// Claim is a withdrawal requested on the ledger and executed on the EVM chain
type Claim struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	MsgHash         string          `gorm:"column:msg_hash;type:varchar(66);uniqueIndex;not null" json:"msg_hash"`
	ChainflipHash   *string         `gorm:"column:chainflip_hash;type:varchar(66)" json:"chainflip_hash"`
	Node            string          `gorm:"column:node;type:varchar(64);index;not null" json:"node"`
	Staker          *string         `gorm:"column:staker;type:varchar(42)" json:"staker"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	StartTime       *uint64         `gorm:"column:start_time" json:"start_time"`
	ExpiryTime      *uint64         `gorm:"column:expiry_time" json:"expiry_time"`
	InitiatedHeight *uint64         `gorm:"column:initiated_height" json:"initiated_height"`
	CompletedHeight *uint64         `gorm:"column:completed_height" json:"completed_height"`
	ExpiredHeight   *uint64         `gorm:"column:expired_height" json:"expired_height"`
	CreatedAt       time.Time       `gorm:"column:created_at" json:"-"`
	UpdatedAt       time.Time       `gorm:"column:updated_at" json:"-"`
}

// TableName returns the table name
func (Claim) TableName() string {
	return "claims"
}

// Terminal reports whether the claim was executed or expired
func (c *Claim) Terminal() bool {
	return c.CompletedHeight != nil || c.ExpiredHeight != nil
}

// Validator is an aggregate rebuilt from stake confirmations
type Validator struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Address      string          `gorm:"column:address;type:varchar(64);uniqueIndex;not null" json:"address"`
	StakedAmount decimal.Decimal `gorm:"column:staked_amount;type:numeric(78,0);not null" json:"staked_amount"`
	Rewards      decimal.Decimal `gorm:"column:rewards;type:numeric(78,0);not null" json:"rewards"`
	CreatedAt    time.Time       `gorm:"column:created_at" json:"-"`
	UpdatedAt    time.Time       `gorm:"column:updated_at" json:"-"`
}

// TableName returns the table name
func (Validator) TableName() string {
	return "validators"
}

// Sums are the three windowed totals for one entity kind
type Sums struct {
	Pending     decimal.Decimal
	Completed   decimal.Decimal
	Uncompleted decimal.Decimal
}

// Uint64Ptr returns a pointer to v
func Uint64Ptr(v uint64) *uint64 {
	return &v
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
