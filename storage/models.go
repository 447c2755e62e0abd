package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Role enumerations for persistence.
const (
	RoleCollaborator  = "CB"
	RolePromoter      = "PM"
	RoleAdministrator = "AD"
)

// User stores a participant together with its ledger identity. The keypair is
// generated once at registration and never rotated.
type User struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name       string    `gorm:"size:255;not null"`
	Email      string    `gorm:"size:255;uniqueIndex;not null"`
	Role       string    `gorm:"size:15;not null;default:CB"`
	Address    string    `gorm:"size:127;index"`
	PrivateKey string    `gorm:"size:127"`
	PictureURL string    `gorm:"size:255"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Campaign groups a promoter's actions.
type Campaign struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"size:80;not null"`
	Description string    `gorm:"size:255"`
	CompanyID   uuid.UUID `gorm:"type:uuid;index;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Action is a budgeted pledge: a reward per completed unit and a unit target.
// KPI tracks cumulative completed units and never exceeds KPITarget.
type Action struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Name         string          `gorm:"size:80;not null"`
	Description  string          `gorm:"size:255"`
	Reward       decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	KPI          int64           `gorm:"not null;default:0"`
	KPITarget    int64           `gorm:"not null;default:0"`
	KPIIndicator string          `gorm:"size:127"`
	CompanyID    uuid.UUID       `gorm:"type:uuid;index;not null"`
	CampaignID   uuid.UUID       `gorm:"type:uuid;index;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Offer is a purchasable reward with a fixed price.
type Offer struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Name        string          `gorm:"size:80;not null"`
	Description string          `gorm:"size:511"`
	Price       decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	CompanyID   uuid.UUID       `gorm:"type:uuid;index;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transaction is the append-only off-chain audit record correlated with each
// settlement call. Rows are inserted after the settlement returns and never
// updated.
type Transaction struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	Date            time.Time `gorm:"not null"`
	Hash            string    `gorm:"size:255"`
	SenderAddress   string    `gorm:"size:127;index"`
	ReceiverAddress string    `gorm:"size:127;index"`
	Quantity        int64     `gorm:"not null"`
	Info            string    `gorm:"size:255"`
	ImgHash         string    `gorm:"size:255"`
	ProofURL        string    `gorm:"size:255"`
}

// KPISnapshot records an action's cumulative KPI once per day, giving
// reporting queries a stable progress series.
type KPISnapshot struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	ActionID uuid.UUID `gorm:"type:uuid;index;not null"`
	Date     string    `gorm:"size:10;index;not null"`
	KPI      int64     `gorm:"not null"`
}

// AutoMigrate provisions all persistence models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Campaign{},
		&Action{},
		&Offer{},
		&Transaction{},
		&KPISnapshot{},
	)
}
