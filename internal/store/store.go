package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/logs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tradeflow/internal/order"
	"tradeflow/internal/schema"
)

// OrderRow is the persisted view of one order, upserted on every state
// change so the table always holds the latest lifecycle snapshot.
type OrderRow struct {
	ClientOrderID uint64 `gorm:"primaryKey"`
	InstrumentID  uint32 `gorm:"index"`
	Side          uint16
	OrderType     uint16
	Qty           int64
	Price         int64
	Status        string `gorm:"index"`
	FilledQty     int64
	AvgPrice      int64
	VenueOrderID  string
	Attempts      int
	TsCreated     int64
	TsUpdated     int64
}

// TableName keeps the table name stable across gorm naming strategies.
func (OrderRow) TableName() string { return "orders" }

// DecisionRow is one risk gate verdict, append-only.
type DecisionRow struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	StrategyID     uint32 `gorm:"index"`
	InstrumentID   uint32
	Action         string
	Reason         string
	IdempotencyKey uint64
	Qty            int64
	Price          int64
	Ts             int64
}

// TableName keeps the table name stable across gorm naming strategies.
func (DecisionRow) TableName() string { return "risk_decisions" }

// Store persists the order audit trail and risk decisions to PostgreSQL.
// Writes go through a bounded queue and a single background writer so the
// trading path never waits on the database; a full queue drops the write
// and counts it.
type Store struct {
	db *gorm.DB
	ch chan any
	wg sync.WaitGroup

	closed  atomic.Bool
	dropped atomic.Uint64
}

// Open connects to PostgreSQL and migrates the audit tables.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&OrderRow{}, &DecisionRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db, ch: make(chan any, 1024)}, nil
}

// Start runs the background writer until the context is cancelled.
func (s *Store) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				s.drain()
				return
			case item, ok := <-s.ch:
				if !ok {
					return
				}
				s.write(item)
			}
		}
	}()
}

// Close stops accepting writes and waits for the writer to finish.
func (s *Store) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
	s.wg.Wait()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Dropped returns how many writes were discarded on a full queue.
func (s *Store) Dropped() uint64 {
	return s.dropped.Load()
}

// RecordOrder implements order.Auditor.
func (s *Store) RecordOrder(o order.Order) {
	s.enqueue(OrderRow{
		ClientOrderID: o.Request.ClientOrderID,
		InstrumentID:  uint32(o.Request.InstrumentID),
		Side:          uint16(o.Request.Side),
		OrderType:     uint16(o.Request.Type),
		Qty:           int64(o.Request.Qty),
		Price:         int64(o.Request.Price),
		Status:        o.Status.String(),
		FilledQty:     int64(o.FilledQty),
		AvgPrice:      int64(o.AvgPrice),
		VenueOrderID:  o.VenueOrderID,
		Attempts:      o.Attempts,
		TsCreated:     o.Request.TsCreated,
		TsUpdated:     o.TsUpdated,
	})
}

// RecordDecision persists a risk gate verdict.
func (s *Store) RecordDecision(d schema.RiskDecision) {
	action := "approve"
	if d.Action == schema.RiskActionReject {
		action = "reject"
	}
	s.enqueue(DecisionRow{
		StrategyID:     d.StrategyID,
		InstrumentID:   uint32(d.InstrumentID),
		Action:         action,
		Reason:         d.Reason.String(),
		IdempotencyKey: d.IdempotencyKey,
		Qty:            int64(d.ProposedQty),
		Price:          int64(d.ProposedPrice),
		Ts:             d.Ts,
	})
}

func (s *Store) enqueue(item any) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- item:
	default:
		s.dropped.Add(1)
	}
}

func (s *Store) drain() {
	for {
		select {
		case item, ok := <-s.ch:
			if !ok {
				return
			}
			s.write(item)
		default:
			return
		}
	}
}

func (s *Store) write(item any) {
	var err error
	switch row := item.(type) {
	case OrderRow:
		err = s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_order_id"}},
			UpdateAll: true,
		}).Create(&row).Error
	case DecisionRow:
		err = s.db.Create(&row).Error
	}
	if err != nil {
		logs.Errorf("audit store write failed, err: %+v", err)
	}
}
