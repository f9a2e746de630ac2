package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gagentflow/gagent"
	"gorm.io/gorm"
)

// gormStateRecord is the persisted layout named in §6: (agent_id, serialized_state,
// version, updated_at).
type gormStateRecord struct {
	AgentID   string `gorm:"primaryKey"`
	StateJSON string
	Version   int
	UpdatedAt time.Time
}

func (gormStateRecord) TableName() string { return "gagent_state" }

// gormConfigRecord is the persisted layout named in §6: (agent_type, agent_id,
// serialized_config, updated_at) with uniqueness on (agent_type, agent_id).
type gormConfigRecord struct {
	AgentType  string `gorm:"primaryKey"`
	AgentID    string `gorm:"primaryKey"`
	ConfigJSON string
	UpdatedAt  time.Time
}

func (gormConfigRecord) TableName() string { return "gagent_config" }

// gormEventRecord is the persisted layout named in §6: (event_id, agent_id,
// version, event_type_tag, serialized_payload, timestamp, metadata) with
// (agent_id, version) strictly increasing.
type gormEventRecord struct {
	EventID      string `gorm:"primaryKey"`
	AgentID      string `gorm:"index:idx_agent_version,unique,priority:1"`
	Version      int    `gorm:"index:idx_agent_version,unique,priority:2"`
	EventTypeTag string
	Payload      []byte
	Timestamp    int64
	Metadata     string
}

func (gormEventRecord) TableName() string { return "gagent_event" }

// AutoMigrate creates or updates the three tables backing the GORM store family.
// Schema evolution for this repository is a single AutoMigrate call rather than a
// migration chain: there is no prior released schema to step through.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&gormStateRecord{}, &gormConfigRecord{}, &gormEventRecord{})
}

// GormStateStore is a versioned StateStore backed by a GORM database handle. Saves
// use a transaction with a row-level check to implement optimistic concurrency.
type GormStateStore[S any] struct {
	db *gorm.DB
}

func NewGormStateStore[S any](db *gorm.DB) *GormStateStore[S] {
	return &GormStateStore[S]{db: db}
}

func (g *GormStateStore[S]) Load(ctx context.Context, id gagent.AgentId) (S, bool, error) {
	var zero S
	var rec gormStateRecord
	err := g.db.WithContext(ctx).Where("agent_id = ?", id.String()).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("gorm state load: %w", err)
	}
	var s S
	if err := json.Unmarshal([]byte(rec.StateJSON), &s); err != nil {
		return zero, false, fmt.Errorf("gorm state unmarshal: %w", err)
	}
	return s, true, nil
}

func (g *GormStateStore[S]) Save(ctx context.Context, id gagent.AgentId, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("gorm state marshal: %w", err)
	}
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec gormStateRecord
		err := tx.Where("agent_id = ?", id.String()).First(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&gormStateRecord{AgentID: id.String(), StateJSON: string(data), Version: 1, UpdatedAt: time.Now()}).Error
		case err != nil:
			return err
		default:
			return tx.Model(&gormStateRecord{}).Where("agent_id = ?", id.String()).
				Updates(map[string]any{"state_json": string(data), "version": rec.Version + 1, "updated_at": time.Now()}).Error
		}
	})
}

func (g *GormStateStore[S]) Delete(ctx context.Context, id gagent.AgentId) error {
	return g.db.WithContext(ctx).Where("agent_id = ?", id.String()).Delete(&gormStateRecord{}).Error
}

func (g *GormStateStore[S]) Exists(ctx context.Context, id gagent.AgentId) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&gormStateRecord{}).Where("agent_id = ?", id.String()).Count(&count).Error
	return count > 0, err
}

func (g *GormStateStore[S]) SaveVersion(ctx context.Context, id gagent.AgentId, state S, expectedVersion int) (int, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("gorm state marshal: %w", err)
	}
	var newVersion int
	txErr := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec gormStateRecord
		err := tx.Where("agent_id = ?", id.String()).First(&rec).Error
		actual := 0
		if err == nil {
			actual = rec.Version
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if actual != expectedVersion {
			return &gagent.VersionConflict{Expected: expectedVersion, Actual: actual}
		}
		newVersion = actual + 1
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&gormStateRecord{AgentID: id.String(), StateJSON: string(data), Version: newVersion, UpdatedAt: time.Now()}).Error
		}
		return tx.Model(&gormStateRecord{}).Where("agent_id = ?", id.String()).
			Updates(map[string]any{"state_json": string(data), "version": newVersion, "updated_at": time.Now()}).Error
	})
	if txErr != nil {
		return 0, txErr
	}
	return newVersion, nil
}

func (g *GormStateStore[S]) CurrentVersion(ctx context.Context, id gagent.AgentId) (int, error) {
	var rec gormStateRecord
	err := g.db.WithContext(ctx).Select("version").Where("agent_id = ?", id.String()).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return rec.Version, err
}

var (
	_ StateStore[int]          = (*GormStateStore[int])(nil)
	_ VersionedStateStore[int] = (*GormStateStore[int])(nil)
)

// GormConfigStore persists (agent_type, agent_id) -> config; the composite primary
// key on gormConfigRecord is what enforces uniqueness.
type GormConfigStore[C any] struct {
	db *gorm.DB
}

func NewGormConfigStore[C any](db *gorm.DB) *GormConfigStore[C] {
	return &GormConfigStore[C]{db: db}
}

func (g *GormConfigStore[C]) Load(ctx context.Context, agentType gagent.AgentType, id gagent.AgentId) (C, bool, error) {
	var zero C
	var rec gormConfigRecord
	err := g.db.WithContext(ctx).Where("agent_type = ? AND agent_id = ?", string(agentType), id.String()).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("gorm config load: %w", err)
	}
	var c C
	if err := json.Unmarshal([]byte(rec.ConfigJSON), &c); err != nil {
		return zero, false, fmt.Errorf("gorm config unmarshal: %w", err)
	}
	return c, true, nil
}

func (g *GormConfigStore[C]) Save(ctx context.Context, agentType gagent.AgentType, id gagent.AgentId, cfg C) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("gorm config marshal: %w", err)
	}
	rec := gormConfigRecord{AgentType: string(agentType), AgentID: id.String(), ConfigJSON: string(data), UpdatedAt: time.Now()}
	return g.db.WithContext(ctx).Save(&rec).Error
}

func (g *GormConfigStore[C]) Delete(ctx context.Context, agentType gagent.AgentType, id gagent.AgentId) error {
	return g.db.WithContext(ctx).Where("agent_type = ? AND agent_id = ?", string(agentType), id.String()).Delete(&gormConfigRecord{}).Error
}

func (g *GormConfigStore[C]) Exists(ctx context.Context, agentType gagent.AgentType, id gagent.AgentId) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&gormConfigRecord{}).Where("agent_type = ? AND agent_id = ?", string(agentType), id.String()).Count(&count).Error
	return count > 0, err
}

var _ ConfigStore[int] = (*GormConfigStore[int])(nil)

// GormEventStore is an append-only EventStore backed by a GORM database handle.
// The unique index on (agent_id, version) makes a non-dense or racing append fail
// at the database layer rather than silently corrupting the log.
type GormEventStore struct {
	db *gorm.DB
}

func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

func toRecord(agentID gagent.AgentId, e StateLogEvent) (gormEventRecord, error) {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return gormEventRecord{}, err
	}
	return gormEventRecord{
		EventID:      e.EventID,
		AgentID:      agentID.String(),
		Version:      e.Version,
		EventTypeTag: e.EventTypeTag,
		Payload:      e.Payload,
		Timestamp:    e.Timestamp,
		Metadata:     string(metadata),
	}, nil
}

func fromRecord(rec gormEventRecord) (StateLogEvent, error) {
	var metadata map[string]string
	if rec.Metadata != "" {
		if err := json.Unmarshal([]byte(rec.Metadata), &metadata); err != nil {
			return StateLogEvent{}, err
		}
	}
	id, err := gagent.ParseAgentId(rec.AgentID)
	if err != nil {
		return StateLogEvent{}, err
	}
	return StateLogEvent{
		EventID:      rec.EventID,
		AgentID:      id,
		Version:      rec.Version,
		EventTypeTag: rec.EventTypeTag,
		Payload:      rec.Payload,
		Timestamp:    rec.Timestamp,
		Metadata:     metadata,
	}, nil
}

func (g *GormEventStore) Append(ctx context.Context, agentID gagent.AgentId, event StateLogEvent) error {
	return g.AppendBatch(ctx, agentID, []StateLogEvent{event})
}

func (g *GormEventStore) AppendBatch(ctx context.Context, agentID gagent.AgentId, events []StateLogEvent) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&gormEventRecord{}).Where("agent_id = ?", agentID.String()).Count(&count).Error; err != nil {
			return err
		}
		for i, e := range events {
			if int64(e.Version) != count+int64(i)+1 {
				return fmt.Errorf("%w: non-dense append", ErrInvalidInput)
			}
			rec, err := toRecord(agentID, e)
			if err != nil {
				return err
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *GormEventStore) Read(ctx context.Context, agentID gagent.AgentId, fromVersion, toVersion int) ([]StateLogEvent, error) {
	q := g.db.WithContext(ctx).Where("agent_id = ?", agentID.String())
	if fromVersion > 0 {
		q = q.Where("version >= ?", fromVersion)
	}
	if toVersion > 0 {
		q = q.Where("version <= ?", toVersion)
	}
	var recs []gormEventRecord
	if err := q.Order("version asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("gorm event read: %w", err)
	}
	out := make([]StateLogEvent, 0, len(recs))
	for _, rec := range recs {
		e, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (g *GormEventStore) LatestVersion(ctx context.Context, agentID gagent.AgentId) (int, error) {
	var maxVersion int
	err := g.db.WithContext(ctx).Model(&gormEventRecord{}).
		Where("agent_id = ?", agentID.String()).
		Select("COALESCE(MAX(version), 0)").Scan(&maxVersion).Error
	return maxVersion, err
}

func (g *GormEventStore) Clear(ctx context.Context, agentID gagent.AgentId) error {
	return g.db.WithContext(ctx).Where("agent_id = ?", agentID.String()).Delete(&gormEventRecord{}).Error
}

var _ EventStore = (*GormEventStore)(nil)
