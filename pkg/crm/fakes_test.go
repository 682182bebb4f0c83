package crm

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dealflow/dealflow/pkg/eventbus"
	"github.com/dealflow/dealflow/pkg/model"
	"github.com/dealflow/dealflow/pkg/store"
)

// memoryStore keeps pipelines, deals and users in maps. Loaded stages are
// returned in reverse order to mimic an unordered join.
type memoryStore struct {
	mu        sync.Mutex
	pipelines map[uuid.UUID]model.Pipeline
	deals     map[uuid.UUID]model.Deal
	users     map[uuid.UUID]model.User
	events    []*model.OutboxEvent

	lastQuery      store.PipelineQuery
	lastDealFilter store.DealFilter
	lastTenant     uuid.UUID
	userLookups    int
	failCreate     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		pipelines: make(map[uuid.UUID]model.Pipeline),
		deals:     make(map[uuid.UUID]model.Deal),
		users:     make(map[uuid.UUID]model.User),
	}
}

type memoryPipelines struct{ *memoryStore }
type memoryDeals struct{ *memoryStore }
type memoryUsers struct{ *memoryStore }

func reversed(stages []model.PipelineStage) []model.PipelineStage {
	out := make([]model.PipelineStage, len(stages))
	for i, s := range stages {
		out[len(stages)-1-i] = s
	}
	return out
}

func (m memoryPipelines) Find(ctx context.Context, tenantID uuid.UUID, query store.PipelineQuery, relations []string, page store.Page) ([]model.Pipeline, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTenant = tenantID
	m.lastQuery = query

	items := make([]model.Pipeline, 0)
	for _, p := range m.pipelines {
		if p.TenantID != tenantID {
			continue
		}
		if len(relations) > 0 {
			p.Stages = reversed(p.Stages)
		} else {
			p.Stages = nil
		}
		items = append(items, p)
	}
	return items, int64(len(items)), nil
}

func (m memoryPipelines) FindByID(ctx context.Context, tenantID, id uuid.UUID, relations []string) (*model.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range relations {
		if r != RelationStages {
			return nil, store.ErrUnknownRelation
		}
	}
	p, ok := m.pipelines[id]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if len(relations) > 0 {
		p.Stages = reversed(p.Stages)
	} else {
		p.Stages = nil
	}
	return &p, nil
}

func (m memoryPipelines) Create(ctx context.Context, p *model.Pipeline, event *model.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	stored := *p
	stored.Stages = append([]model.PipelineStage(nil), p.Stages...)
	m.pipelines[p.ID] = stored
	m.events = append(m.events, event)
	return nil
}

func (m memoryPipelines) Update(ctx context.Context, p *model.Pipeline, event *model.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pipelines[p.ID]; !ok {
		return store.ErrNotFound
	}
	stored := *p
	stored.Stages = append([]model.PipelineStage(nil), p.Stages...)
	m.pipelines[p.ID] = stored
	m.events = append(m.events, event)
	return nil
}

func (m memoryPipelines) Delete(ctx context.Context, tenantID, id uuid.UUID, event *model.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[id]
	if !ok || p.TenantID != tenantID {
		return store.ErrNotFound
	}
	for _, d := range m.deals {
		for _, s := range p.Stages {
			if d.StageID == s.ID {
				return store.ErrConflict
			}
		}
	}
	delete(m.pipelines, id)
	m.events = append(m.events, event)
	return nil
}

func (m memoryPipelines) FindStage(ctx context.Context, tenantID, stageID uuid.UUID) (*model.PipelineStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pipelines {
		for _, s := range p.Stages {
			if s.ID == stageID && s.TenantID == tenantID {
				stage := s
				return &stage, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (m *memoryStore) stageIndex(stageID uuid.UUID) (uuid.UUID, int, bool) {
	for _, p := range m.pipelines {
		for _, s := range p.Stages {
			if s.ID == stageID {
				return p.ID, s.Index, true
			}
		}
	}
	return uuid.Nil, 0, false
}

func (m memoryDeals) matches(d model.Deal, tenantID uuid.UUID, f store.DealFilter) bool {
	if d.TenantID != tenantID {
		return false
	}
	if f.StageID != nil && d.StageID != *f.StageID {
		return false
	}
	if f.CreatedByUserID != nil && d.CreatedByUserID != *f.CreatedByUserID {
		return false
	}
	if f.PipelineID != nil {
		pipelineID, _, ok := m.stageIndex(d.StageID)
		if !ok || pipelineID != *f.PipelineID {
			return false
		}
	}
	return true
}

func (m memoryDeals) Find(ctx context.Context, tenantID uuid.UUID, filter store.DealFilter, relations []string, page store.Page) ([]model.Deal, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastDealFilter = filter
	items := make([]model.Deal, 0)
	for _, d := range m.deals {
		if m.matches(d, tenantID, filter) {
			items = append(items, d)
		}
	}
	return items, int64(len(items)), nil
}

func (m memoryDeals) Count(ctx context.Context, tenantID uuid.UUID, filter store.DealFilter) (int64, error) {
	_, total, err := m.Find(ctx, tenantID, filter, nil, store.Page{})
	return total, err
}

func (m memoryDeals) FindByID(ctx context.Context, tenantID, id uuid.UUID, relations []string) (*model.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok || d.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (m memoryDeals) FindByPipeline(ctx context.Context, tenantID, pipelineID uuid.UUID) ([]model.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTenant = tenantID
	type ranked struct {
		deal  model.Deal
		index int
	}
	var rows []ranked
	for _, d := range m.deals {
		pid, index, ok := m.stageIndex(d.StageID)
		if !ok || pid != pipelineID || d.TenantID != tenantID {
			continue
		}
		rows = append(rows, ranked{deal: d, index: index})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].index != rows[j].index {
			return rows[i].index < rows[j].index
		}
		return rows[i].deal.CreatedAt.Before(rows[j].deal.CreatedAt)
	})
	out := make([]model.Deal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.deal)
	}
	return out, nil
}

func (m memoryDeals) Statistics(ctx context.Context, tenantID uuid.UUID, filter store.DealFilter) ([]store.StageStatistic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastDealFilter = filter
	counts := make(map[uuid.UUID]int64)
	for _, d := range m.deals {
		if m.matches(d, tenantID, filter) {
			counts[d.StageID]++
		}
	}
	rows := make([]store.StageStatistic, 0, len(counts))
	for stageID, count := range counts {
		_, index, _ := m.stageIndex(stageID)
		rows = append(rows, store.StageStatistic{StageID: stageID, StageIndex: index, DealCount: count})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StageIndex < rows[j].StageIndex })
	return rows, nil
}

func (m memoryDeals) Create(ctx context.Context, d *model.Deal, event *model.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.deals {
		if d.ClientID != nil && existing.ClientID != nil && *existing.ClientID == *d.ClientID {
			return store.ErrConflict
		}
	}
	m.deals[d.ID] = *d
	m.events = append(m.events, event)
	return nil
}

func (m memoryDeals) Update(ctx context.Context, tenantID, id uuid.UUID, updates map[string]interface{}, event *model.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok || d.TenantID != tenantID {
		return store.ErrNotFound
	}
	if v, ok := updates["stage_id"].(uuid.UUID); ok {
		d.StageID = v
	}
	if v, ok := updates["title"].(string); ok {
		d.Title = v
	}
	if v, ok := updates["probability"].(int); ok {
		d.Probability = &v
	}
	if v, present := updates["client_id"]; present {
		switch client := v.(type) {
		case uuid.UUID:
			d.ClientID = &client
		case nil:
			d.ClientID = nil
		}
	}
	if v, ok := updates["properties"].(model.JSONB); ok {
		d.Properties = v
	}
	m.deals[id] = d
	m.events = append(m.events, event)
	return nil
}

func (m memoryDeals) Delete(ctx context.Context, tenantID, id uuid.UUID, event *model.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok || d.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(m.deals, id)
	m.events = append(m.events, event)
	return nil
}

func (m memoryUsers) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userLookups++
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	events   []eventbus.Event
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.channels = append(p.channels, channel)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var errPublish = errors.New("redis unavailable")
