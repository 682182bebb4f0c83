package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dealflow/dealflow/pkg/model"
	"github.com/dealflow/dealflow/pkg/store"
)

// TenantRepository is the generic CRUD base shared by the entity
// repositories. Every statement it issues is filtered by tenant_id.
type TenantRepository[T any] struct {
	db        *gorm.DB
	relations map[string]string
}

// NewTenantRepository creates a repository for T. relations maps the public
// relation names accepted from clients to gorm preload paths.
func NewTenantRepository[T any](db *gorm.DB, relations map[string]string) *TenantRepository[T] {
	return &TenantRepository[T]{db: db, relations: relations}
}

type findOptions struct {
	relations []string
	scopes    []func(*gorm.DB) *gorm.DB
	order     []string
	page      store.Page
}

func tenantColumn(tenantID uuid.UUID) clause.Expression {
	return clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: "tenant_id"}, Value: tenantID}
}

func idColumn(id uuid.UUID) clause.Expression {
	return clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: "id"}, Value: id}
}

func (r *TenantRepository[T]) scoped(ctx context.Context, tenantID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(new(T)).Where(tenantColumn(tenantID))
}

func (r *TenantRepository[T]) preload(query *gorm.DB, relations []string) (*gorm.DB, error) {
	for _, name := range relations {
		path, ok := r.relations[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", store.ErrUnknownRelation, name)
		}
		query = query.Preload(path)
	}
	return query, nil
}

func (r *TenantRepository[T]) findAll(ctx context.Context, tenantID uuid.UUID, opts findOptions) ([]T, int64, error) {
	base := r.scoped(ctx, tenantID).Scopes(opts.scopes...).Session(&gorm.Session{})

	query, err := r.preload(base, opts.relations)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	for _, order := range opts.order {
		query = query.Order(order)
	}
	if opts.page.Limit > 0 {
		query = query.Limit(opts.page.Limit)
	}
	if opts.page.Offset > 0 {
		query = query.Offset(opts.page.Offset)
	}

	items := make([]T, 0)
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// FindByID loads one entity of the tenant with the requested relations.
func (r *TenantRepository[T]) FindByID(ctx context.Context, tenantID, id uuid.UUID, relations []string) (*T, error) {
	query, err := r.preload(r.scoped(ctx, tenantID).Where(idColumn(id)), relations)
	if err != nil {
		return nil, err
	}

	var item T
	if err := query.First(&item).Error; err != nil {
		return nil, translateError(err)
	}
	return &item, nil
}

func (r *TenantRepository[T]) CreateWithEvent(ctx context.Context, entity *T, event *model.OutboxEvent) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entity).Error; err != nil {
			return err
		}
		return writeEvent(tx, event)
	})
	return translateError(err)
}

func (r *TenantRepository[T]) UpdateWithEvent(ctx context.Context, tenantID, id uuid.UUID, updates map[string]interface{}, event *model.OutboxEvent) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(new(T)).Where(tenantColumn(tenantID)).Where(idColumn(id)).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return writeEvent(tx, event)
	})
	return translateError(err)
}

func (r *TenantRepository[T]) DeleteWithEvent(ctx context.Context, tenantID, id uuid.UUID, event *model.OutboxEvent) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where(tenantColumn(tenantID)).Where(idColumn(id)).Delete(new(T))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return writeEvent(tx, event)
	})
	return translateError(err)
}

func writeEvent(tx *gorm.DB, event *model.OutboxEvent) error {
	if event == nil {
		return nil
	}
	return tx.Create(event).Error
}

// likeEscape is appended to every LIKE built from likeContains.
const likeEscape = ` ESCAPE '\'`

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likeContains builds a substring pattern in which the user's % and _ match
// literally.
func likeContains(value string) string {
	return "%" + likeReplacer.Replace(value) + "%"
}
