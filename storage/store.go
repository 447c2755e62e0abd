package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrPersistence indicates the durable store itself failed.
	ErrPersistence = errors.New("storage: persistence failure")
)

// Store wraps the relational database behind typed accessors.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for service wiring.
func (s *Store) DB() *gorm.DB { return s.db }

func wrapLookup(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

// --- Users / accounts ---

func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, wrapLookup(err)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, wrapLookup(err)
	}
	return &user, nil
}

func (s *Store) GetUserByAddress(ctx context.Context, address string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, "address = ?", address).Error; err != nil {
		return nil, wrapLookup(err)
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).Order("created_at").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return users, nil
}

// --- Campaigns ---

func (s *Store) CreateCampaign(ctx context.Context, campaign *Campaign) error {
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(campaign).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	var campaign Campaign
	if err := s.db.WithContext(ctx).First(&campaign, "id = ?", id).Error; err != nil {
		return nil, wrapLookup(err)
	}
	return &campaign, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	var campaigns []Campaign
	if err := s.db.WithContext(ctx).Order("created_at").Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return campaigns, nil
}

func (s *Store) ListCampaignsByCompany(ctx context.Context, companyID uuid.UUID) ([]Campaign, error) {
	var campaigns []Campaign
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("created_at").Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return campaigns, nil
}

func (s *Store) SaveCampaign(ctx context.Context, campaign *Campaign) error {
	if err := s.db.WithContext(ctx).Save(campaign).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) DeleteCampaign(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&Campaign{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Actions ---

func (s *Store) CreateAction(ctx context.Context, action *Action) error {
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(action).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) GetAction(ctx context.Context, id uuid.UUID) (*Action, error) {
	var action Action
	if err := s.db.WithContext(ctx).First(&action, "id = ?", id).Error; err != nil {
		return nil, wrapLookup(err)
	}
	return &action, nil
}

func (s *Store) ListActions(ctx context.Context) ([]Action, error) {
	var actions []Action
	if err := s.db.WithContext(ctx).Order("created_at").Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return actions, nil
}

func (s *Store) ListActionsByCompany(ctx context.Context, companyID uuid.UUID) ([]Action, error) {
	var actions []Action
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("created_at").Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return actions, nil
}

func (s *Store) ListActionsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]Action, error) {
	var actions []Action
	if err := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Order("created_at").Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return actions, nil
}

func (s *Store) SaveAction(ctx context.Context, action *Action) error {
	if err := s.db.WithContext(ctx).Save(action).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) DeleteAction(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&Action{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementActionKPI adds the registered units atomically at the SQL level.
func (s *Store) IncrementActionKPI(ctx context.Context, id uuid.UUID, units int64) error {
	res := s.db.WithContext(ctx).Model(&Action{}).Where("id = ?", id).
		Update("kpi", gorm.Expr("kpi + ?", units))
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Offers ---

func (s *Store) CreateOffer(ctx context.Context, offer *Offer) error {
	if offer.ID == uuid.Nil {
		offer.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(offer).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) GetOffer(ctx context.Context, id uuid.UUID) (*Offer, error) {
	var offer Offer
	if err := s.db.WithContext(ctx).First(&offer, "id = ?", id).Error; err != nil {
		return nil, wrapLookup(err)
	}
	return &offer, nil
}

func (s *Store) ListOffers(ctx context.Context) ([]Offer, error) {
	var offers []Offer
	if err := s.db.WithContext(ctx).Order("created_at").Find(&offers).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return offers, nil
}

func (s *Store) ListOffersByCompany(ctx context.Context, companyID uuid.UUID) ([]Offer, error) {
	var offers []Offer
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("created_at").Find(&offers).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return offers, nil
}

func (s *Store) SaveOffer(ctx context.Context, offer *Offer) error {
	if err := s.db.WithContext(ctx).Save(offer).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) DeleteOffer(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&Offer{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Transactions ---

// RecordTransaction appends one audit row. Callers invoke it only after the
// settlement call has returned.
func (s *Store) RecordTransaction(ctx context.Context, tx *Transaction) error {
	if tx.Date.IsZero() {
		tx.Date = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]Transaction, error) {
	var txs []Transaction
	if err := s.db.WithContext(ctx).Order("id").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return txs, nil
}

// ListTransactionsByAddress returns every audit row in which the address
// appears as sender or receiver.
func (s *Store) ListTransactionsByAddress(ctx context.Context, address string) ([]Transaction, error) {
	var txs []Transaction
	if err := s.db.WithContext(ctx).
		Where("sender_address = ? OR receiver_address = ?", address, address).
		Order("id").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return txs, nil
}

// --- KPI snapshots ---

// SnapshotKPIs records each action's cumulative KPI for the given day, once.
func (s *Store) SnapshotKPIs(ctx context.Context, day time.Time) error {
	date := day.UTC().Format("2006-01-02")
	var count int64
	if err := s.db.WithContext(ctx).Model(&KPISnapshot{}).Where("date = ?", date).Count(&count).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if count > 0 {
		return nil
	}
	actions, err := s.ListActions(ctx)
	if err != nil {
		return err
	}
	for _, action := range actions {
		snap := KPISnapshot{ActionID: action.ID, Date: date, KPI: action.KPI}
		if err := s.db.WithContext(ctx).Create(&snap).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	return nil
}

func (s *Store) ListKPISnapshots(ctx context.Context, actionID uuid.UUID) ([]KPISnapshot, error) {
	var snaps []KPISnapshot
	if err := s.db.WithContext(ctx).Where("action_id = ?", actionID).Order("id desc").Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return snaps, nil
}
