package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - persistence for positions, the event log, and learned artifacts
// ═══════════════════════════════════════════════════════════════════════════════
//
// SQLite by default, PostgreSQL when the path is a postgres:// URL. Trade
// events are append-only; lesson/override sets are replaced whole inside one
// transaction so readers never see a half-written set.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// Models

type PositionRecord struct {
	ID         string `gorm:"primaryKey"`
	Instrument string `gorm:"index"`
	Venue      string
	Timeframe  string `gorm:"index"`
	Status     string

	Quantity      decimal.Decimal `gorm:"type:decimal(30,12)"`
	Allocated     decimal.Decimal `gorm:"type:decimal(30,12)"`
	Extracted     decimal.Decimal `gorm:"type:decimal(30,12)"`
	AllocationCap decimal.Decimal `gorm:"type:decimal(30,12)"`
	AvgEntryPrice decimal.Decimal `gorm:"type:decimal(30,12)"`
	AvgExitPrice  decimal.Decimal `gorm:"type:decimal(30,12)"`

	OpenTradeID string
	History     string // JSON ExecHistory
	Snapshot    string // JSON StateSnapshot

	CreatedAt time.Time
	UpdatedAt time.Time
}

type TradeEventRecord struct {
	ID         string `gorm:"primaryKey"`
	TradeID    string `gorm:"index"`
	PositionID string `gorm:"index"`
	PatternKey string `gorm:"index"`
	Category   string
	ScopeKey   string
	Acted      bool
	Outcome    float64
	OutcomeSet bool `gorm:"index"`
	Factors    string
	At         time.Time
	CreatedAt  time.Time
}

type EpisodeRecord struct {
	ID         string `gorm:"primaryKey"`
	PositionID string `gorm:"index"`
	PatternKey string
	Outcome    string
	Open       bool `gorm:"index"`
	StartedAt  time.Time
	EndedAt    *time.Time
	Payload    string // full JSON episode
	UpdatedAt  time.Time
}

type LessonRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	PatternKey string `gorm:"index"`
	Category   string
	ScopeKey   string
	N          int
	Mean       float64
	Variance   float64
	Delta      float64
	Edge       float64
	Confidence float64
	Decay      float64
	MinedAt    time.Time
}

type OverrideRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Class      string `gorm:"index"`
	PatternKey string
	Category   string
	ScopeKey   string
	Multiplier float64
	Confidence float64
	CreatedAt  time.Time
}

type ClosedTradeRecord struct {
	TradeID       string `gorm:"primaryKey"`
	PositionID    string `gorm:"index"`
	Instrument    string
	Venue         string
	Timeframe     string
	AvgEntryPrice decimal.Decimal `gorm:"type:decimal(30,12)"`
	AvgExitPrice  decimal.Decimal `gorm:"type:decimal(30,12)"`
	Allocated     decimal.Decimal `gorm:"type:decimal(30,12)"`
	Extracted     decimal.Decimal `gorm:"type:decimal(30,12)"`
	Outcome       float64
	OutcomeKnown  bool
	OpenedAt      time.Time
	ClosedAt      time.Time
	CreatedAt     time.Time
}

func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&PositionRecord{}, &TradeEventRecord{}, &EpisodeRecord{},
		&LessonRecord{}, &OverrideRecord{}, &ClosedTradeRecord{},
	); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// ─────────────────────────────────────────────
// Positions
// ─────────────────────────────────────────────

func (d *Database) SavePosition(pos *types.Position) error {
	history, _ := json.Marshal(pos.History)
	snapshot, _ := json.Marshal(pos.Snapshot)

	rec := PositionRecord{
		ID:            pos.ID,
		Instrument:    pos.Instrument,
		Venue:         pos.Venue,
		Timeframe:     pos.Timeframe,
		Status:        string(pos.Status),
		Quantity:      pos.Quantity,
		Allocated:     pos.Allocated,
		Extracted:     pos.Extracted,
		AllocationCap: pos.AllocationCap,
		AvgEntryPrice: pos.AvgEntryPrice,
		AvgExitPrice:  pos.AvgExitPrice,
		OpenTradeID:   pos.OpenTradeID,
		History:       string(history),
		Snapshot:      string(snapshot),
		CreatedAt:     pos.CreatedAt,
		UpdatedAt:     time.Now(),
	}
	return d.db.Save(&rec).Error
}

func (d *Database) LoadPositions() ([]types.Position, error) {
	var recs []PositionRecord
	if err := d.db.Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]types.Position, 0, len(recs))
	for _, r := range recs {
		pos := types.Position{
			ID:            r.ID,
			Instrument:    r.Instrument,
			Venue:         r.Venue,
			Timeframe:     r.Timeframe,
			Status:        types.PositionStatus(r.Status),
			Quantity:      r.Quantity,
			Allocated:     r.Allocated,
			Extracted:     r.Extracted,
			AllocationCap: r.AllocationCap,
			AvgEntryPrice: r.AvgEntryPrice,
			AvgExitPrice:  r.AvgExitPrice,
			OpenTradeID:   r.OpenTradeID,
			History:       types.ExecHistory{},
			CreatedAt:     r.CreatedAt,
			UpdatedAt:     r.UpdatedAt,
		}
		if r.History != "" {
			_ = json.Unmarshal([]byte(r.History), &pos.History)
		}
		if r.Snapshot != "" {
			_ = json.Unmarshal([]byte(r.Snapshot), &pos.Snapshot)
		}
		out = append(out, pos)
	}
	return out, nil
}

// ─────────────────────────────────────────────
// Trade events (append-only)
// ─────────────────────────────────────────────

func (d *Database) AppendTradeEvents(events []types.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}
	recs := make([]TradeEventRecord, 0, len(events))
	for _, ev := range events {
		factors, _ := json.Marshal(ev.Factors)
		recs = append(recs, TradeEventRecord{
			ID:         ev.ID,
			TradeID:    ev.TradeID,
			PositionID: ev.PositionID,
			PatternKey: ev.PatternKey,
			Category:   string(ev.Category),
			ScopeKey:   ev.Scope.Key(),
			Acted:      ev.Acted,
			Outcome:    ev.Outcome,
			OutcomeSet: ev.OutcomeSet,
			Factors:    string(factors),
			At:         ev.At,
		})
	}
	// Duplicate event ids can arrive on crash-replay; first write wins.
	return d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&recs).Error
}

// ResolveTradeOutcomes back-fills the outcome metric on every acted event of
// a closed trade.
func (d *Database) ResolveTradeOutcomes(tradeID string, outcome float64) error {
	return d.db.Model(&TradeEventRecord{}).
		Where("trade_id = ? AND acted = ? AND outcome_set = ?", tradeID, true, false).
		Updates(map[string]interface{}{"outcome": outcome, "outcome_set": true}).Error
}

// TradeEvents returns the resolved event log for the learner. Satisfies the
// learner's EventSource.
func (d *Database) TradeEvents(ctx context.Context) ([]types.TradeEvent, error) {
	var recs []TradeEventRecord
	if err := d.db.WithContext(ctx).
		Where("outcome_set = ?", true).
		Order("at ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]types.TradeEvent, 0, len(recs))
	for _, r := range recs {
		ev := types.TradeEvent{
			ID:         r.ID,
			TradeID:    r.TradeID,
			PositionID: r.PositionID,
			PatternKey: r.PatternKey,
			Category:   types.Category(r.Category),
			Scope:      types.ParseScope(r.ScopeKey),
			Acted:      r.Acted,
			Outcome:    r.Outcome,
			OutcomeSet: r.OutcomeSet,
			At:         r.At,
		}
		if r.Factors != "" && r.Factors != "null" {
			_ = json.Unmarshal([]byte(r.Factors), &ev.Factors)
		}
		out = append(out, ev)
	}
	return out, nil
}

// ─────────────────────────────────────────────
// Episodes
// ─────────────────────────────────────────────

// SaveEpisode upserts one episode; finalized episodes stay for audit.
func (d *Database) SaveEpisode(ep *types.Episode) error {
	payload, _ := json.Marshal(ep)
	rec := EpisodeRecord{
		ID:         ep.ID,
		PositionID: ep.PositionID,
		PatternKey: ep.PatternKey,
		Outcome:    string(ep.Outcome),
		Open:       ep.End.IsZero(),
		StartedAt:  ep.Start,
		Payload:    string(payload),
		UpdatedAt:  time.Now(),
	}
	if !ep.End.IsZero() {
		end := ep.End
		rec.EndedAt = &end
	}
	return d.db.Save(&rec).Error
}

// OpenEpisodes loads the episodes that were in flight at shutdown.
func (d *Database) OpenEpisodes(positionID string) ([]types.Episode, error) {
	var recs []EpisodeRecord
	if err := d.db.Where("position_id = ? AND open = ?", positionID, true).Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]types.Episode, 0, len(recs))
	for _, r := range recs {
		var ep types.Episode
		if err := json.Unmarshal([]byte(r.Payload), &ep); err != nil {
			log.Warn().Err(err).Str("episode", r.ID).Msg("Skipping undecodable episode payload")
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

// ─────────────────────────────────────────────
// Lessons and overrides (replace-only)
// ─────────────────────────────────────────────

func (d *Database) ReplaceLessons(ctx context.Context, lessons []types.Lesson) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&LessonRecord{}).Error; err != nil {
			return err
		}
		if len(lessons) == 0 {
			return nil
		}
		recs := make([]LessonRecord, 0, len(lessons))
		for _, l := range lessons {
			recs = append(recs, LessonRecord{
				PatternKey: l.PatternKey,
				Category:   string(l.Category),
				ScopeKey:   l.Scope.Key(),
				N:          l.N,
				Mean:       l.Mean,
				Variance:   l.Variance,
				Delta:      l.Delta,
				Edge:       l.Edge,
				Confidence: l.Confidence,
				Decay:      l.Decay,
				MinedAt:    l.MinedAt,
			})
		}
		return tx.Create(&recs).Error
	})
}

func (d *Database) ReplaceOverrides(ctx context.Context, ovr []types.Override) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&OverrideRecord{}).Error; err != nil {
			return err
		}
		if len(ovr) == 0 {
			return nil
		}
		recs := make([]OverrideRecord, 0, len(ovr))
		for _, o := range ovr {
			recs = append(recs, OverrideRecord{
				Class:      string(o.Class),
				PatternKey: o.PatternKey,
				Category:   string(o.Category),
				ScopeKey:   o.Scope.Key(),
				Multiplier: o.Multiplier,
				Confidence: o.Confidence,
			})
		}
		return tx.Create(&recs).Error
	})
}

// LoadOverrides re-seeds the in-memory override set on startup.
func (d *Database) LoadOverrides() ([]types.Override, error) {
	var recs []OverrideRecord
	if err := d.db.Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]types.Override, 0, len(recs))
	for _, r := range recs {
		out = append(out, types.Override{
			Class:      types.OverrideClass(r.Class),
			PatternKey: r.PatternKey,
			Category:   types.Category(r.Category),
			Scope:      types.ParseScope(r.ScopeKey),
			Multiplier: r.Multiplier,
			Confidence: r.Confidence,
		})
	}
	return out, nil
}

// ─────────────────────────────────────────────
// Closed trade history
// ─────────────────────────────────────────────

// AppendClosedTrade writes the trade summary at closure. Keyed on trade id,
// so a duplicate closure attempt is a no-op.
func (d *Database) AppendClosedTrade(ct *types.ClosedTrade) error {
	rec := ClosedTradeRecord{
		TradeID:       ct.TradeID,
		PositionID:    ct.PositionID,
		Instrument:    ct.Instrument,
		Venue:         ct.Venue,
		Timeframe:     ct.Timeframe,
		AvgEntryPrice: ct.AvgEntryPrice,
		AvgExitPrice:  ct.AvgExitPrice,
		Allocated:     ct.Allocated,
		Extracted:     ct.Extracted,
		Outcome:       ct.Outcome,
		OutcomeKnown:  ct.OutcomeKnown,
		OpenedAt:      ct.OpenedAt,
		ClosedAt:      ct.ClosedAt,
	}
	return d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

func (d *Database) ClosedTrades(limit int) ([]types.ClosedTrade, error) {
	var recs []ClosedTradeRecord
	if err := d.db.Order("closed_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]types.ClosedTrade, 0, len(recs))
	for _, r := range recs {
		out = append(out, types.ClosedTrade{
			TradeID:       r.TradeID,
			PositionID:    r.PositionID,
			Instrument:    r.Instrument,
			Venue:         r.Venue,
			Timeframe:     r.Timeframe,
			AvgEntryPrice: r.AvgEntryPrice,
			AvgExitPrice:  r.AvgExitPrice,
			Allocated:     r.Allocated,
			Extracted:     r.Extracted,
			Outcome:       r.Outcome,
			OutcomeKnown:  r.OutcomeKnown,
			OpenedAt:      r.OpenedAt,
			ClosedAt:      r.ClosedAt,
		})
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Stats returns rollup counters for display.
func (d *Database) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var events int64
	d.db.Model(&TradeEventRecord{}).Count(&events)
	stats["trade_events"] = events

	var resolved int64
	d.db.Model(&TradeEventRecord{}).Where("outcome_set = ?", true).Count(&resolved)
	stats["resolved_events"] = resolved

	var lessons int64
	d.db.Model(&LessonRecord{}).Count(&lessons)
	stats["lessons"] = lessons

	var overrides int64
	d.db.Model(&OverrideRecord{}).Count(&overrides)
	stats["overrides"] = overrides

	var closed int64
	d.db.Model(&ClosedTradeRecord{}).Count(&closed)
	stats["closed_trades"] = closed

	return stats, nil
}
