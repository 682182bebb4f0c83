package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/crm"
	"github.com/dealflow/dealflow/pkg/model"
	"github.com/dealflow/dealflow/pkg/store"
	"github.com/dealflow/dealflow/pkg/tenancy"
)

type stubPipelines struct {
	opts      crm.FindPipelinesOptions
	where     map[string]any
	page      store.Page
	relations []string
	created   crm.CreatePipelineInput
	deals     crm.DealPage
	err       error
}

func (s *stubPipelines) FindAll(ctx context.Context, rc tenancy.RequestContext, opts crm.FindPipelinesOptions) (crm.PipelinePage, error) {
	s.opts = opts
	return crm.PipelinePage{Items: []model.Pipeline{}}, s.err
}

func (s *stubPipelines) Paginate(ctx context.Context, rc tenancy.RequestContext, where map[string]any, page store.Page) (crm.PipelinePage, error) {
	s.where, s.page = where, page
	return crm.PipelinePage{Items: []model.Pipeline{}}, s.err
}

func (s *stubPipelines) FindByID(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, relations []string) (*model.Pipeline, error) {
	s.relations = relations
	if s.err != nil {
		return nil, s.err
	}
	return &model.Pipeline{ID: id, TenantID: rc.TenantID, Name: "Sales"}, nil
}

func (s *stubPipelines) Create(ctx context.Context, rc tenancy.RequestContext, input crm.CreatePipelineInput) (*model.Pipeline, error) {
	s.created = input
	if s.err != nil {
		return nil, s.err
	}
	p := &model.Pipeline{ID: uuid.New(), TenantID: rc.TenantID, Name: input.Name, IsActive: true}
	for i, in := range input.Stages {
		p.Stages = append(p.Stages, model.PipelineStage{ID: uuid.New(), PipelineID: p.ID, Name: in.Name, Index: i + 1})
	}
	return p, nil
}

func (s *stubPipelines) Update(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, input crm.UpdatePipelineInput) (*model.Pipeline, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.Pipeline{ID: id}, nil
}

func (s *stubPipelines) Delete(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID) error {
	return s.err
}

func (s *stubPipelines) FindDeals(ctx context.Context, rc tenancy.RequestContext, pipelineID uuid.UUID) (crm.DealPage, error) {
	return s.deals, s.err
}

type stubDeals struct {
	query         crm.DealQuery
	filter        store.DealFilter
	stageID       uuid.UUID
	created       crm.CreateDealInput
	updated       crm.UpdateDealInput
	property      crm.DealPropertyInput
	propertyName  string
	propertyValue string
	err           error
}

func (s *stubDeals) FindAll(ctx context.Context, rc tenancy.RequestContext, q crm.DealQuery) (crm.DealPage, error) {
	s.query = q
	return crm.DealPage{Items: []model.Deal{}}, s.err
}

func (s *stubDeals) FindMine(ctx context.Context, rc tenancy.RequestContext, q crm.DealQuery) (crm.DealPage, error) {
	s.query = q
	return crm.DealPage{Items: []model.Deal{}}, s.err
}

func (s *stubDeals) Count(ctx context.Context, rc tenancy.RequestContext, filter store.DealFilter) (int64, error) {
	s.filter = filter
	return 7, s.err
}

func (s *stubDeals) FindByID(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, relations []string) (*model.Deal, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.Deal{ID: id}, nil
}

func (s *stubDeals) Statistics(ctx context.Context, rc tenancy.RequestContext, pipelineID *uuid.UUID) ([]crm.StageStatistics, error) {
	return []crm.StageStatistics{{StageName: "Lead", StageIndex: 1, DealCount: 2}}, s.err
}

func (s *stubDeals) Create(ctx context.Context, rc tenancy.RequestContext, input crm.CreateDealInput) (*model.Deal, error) {
	s.created = input
	if s.err != nil {
		return nil, s.err
	}
	return &model.Deal{ID: uuid.New(), Title: input.Title, StageID: input.StageID, CreatedByUserID: rc.UserID}, nil
}

func (s *stubDeals) Update(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, input crm.UpdateDealInput) (*model.Deal, error) {
	s.updated = input
	if s.err != nil {
		return nil, s.err
	}
	return &model.Deal{ID: id}, nil
}

func (s *stubDeals) UpdateStage(ctx context.Context, rc tenancy.RequestContext, id, stageID uuid.UUID) (*model.Deal, error) {
	s.stageID = stageID
	if s.err != nil {
		return nil, s.err
	}
	return &model.Deal{ID: id, StageID: stageID}, nil
}

func (s *stubDeals) Delete(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID) error {
	return s.err
}

func (s *stubDeals) AddProperty(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, input crm.DealPropertyInput) (*model.Deal, error) {
	s.property = input
	if s.err != nil {
		return nil, s.err
	}
	return &model.Deal{ID: id, Properties: model.JSONB{input.Name: input.Value}}, nil
}

func (s *stubDeals) UpdateProperty(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, name, value string) (*model.Deal, error) {
	s.propertyName, s.propertyValue = name, value
	if s.err != nil {
		return nil, s.err
	}
	return &model.Deal{ID: id, Properties: model.JSONB{name: value}}, nil
}

func (s *stubDeals) RemoveProperty(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, name string) error {
	s.propertyName = name
	return s.err
}

var testCaller = tenancy.RequestContext{TenantID: uuid.New(), UserID: uuid.New()}

func newRouter(pipelines PipelineService, deals DealService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(tenancy.WithRequestContext(c.Request.Context(), testCaller))
		c.Next()
	})

	ph := NewPipelineHandler(pipelines, zap.NewNop())
	r.GET("/pipeline", ph.List)
	r.GET("/pipeline/pagination", ph.Pagination)
	r.GET("/pipeline/:id", ph.Get)
	r.GET("/pipeline/:id/deals", ph.FindDeals)
	r.POST("/pipeline", ph.Create)
	r.PUT("/pipeline/:id", ph.Update)
	r.DELETE("/pipeline/:id", ph.Delete)

	dh := NewDealHandler(deals, zap.NewNop())
	r.GET("/deal", dh.List)
	r.GET("/deal/count", dh.Count)
	r.GET("/deal/me", dh.ListMine)
	r.GET("/deal/statistics", dh.Statistics)
	r.GET("/deal/:id", dh.Get)
	r.POST("/deal", dh.Create)
	r.PUT("/deal/:id", dh.Update)
	r.PUT("/deal/:id/stage", dh.Move)
	r.DELETE("/deal/:id", dh.Delete)
	r.POST("/deal/:id/properties", dh.AddProperty)
	r.PUT("/deal/:id/properties/:name", dh.UpdateProperty)
	r.DELETE("/deal/:id/properties/:name", dh.RemoveProperty)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, req)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &out))
	return out
}

func TestPaginationDecodesWhere(t *testing.T) {
	pipelines := &stubPipelines{}
	r := newRouter(pipelines, &stubDeals{})

	rec := do(r, http.MethodGet, "/pipeline/pagination?where[name]=Sal&where[isActive]=true&where[stages]=Lead&take=5&skip=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sal", pipelines.where["name"])
	assert.Equal(t, true, pipelines.where["isActive"])
	assert.Equal(t, "Lead", pipelines.where["stages"])
	assert.Equal(t, store.Page{Limit: 5, Offset: 10}, pipelines.page)

	body := decode(t, rec)
	assert.Equal(t, float64(0), body["total"])
	assert.NotNil(t, body["items"])
}

func TestPaginationKeepsActiveLiteral(t *testing.T) {
	pipelines := &stubPipelines{}
	r := newRouter(pipelines, &stubDeals{})

	rec := do(r, http.MethodGet, "/pipeline/pagination?where[isActive]=active", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", pipelines.where["isActive"])
	assert.Equal(t, defaultPageSize, pipelines.page.Limit)
}

func TestListParsesDataParameter(t *testing.T) {
	pipelines := &stubPipelines{}
	r := newRouter(pipelines, &stubDeals{})

	data := url.QueryEscape(`{"relations":["stages"],"findInput":{"isActive":true}}`)
	rec := do(r, http.MethodGet, "/pipeline?data="+data, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"stages"}, pipelines.opts.Relations)
	assert.Equal(t, true, pipelines.opts.FindInput["isActive"])

	rec = do(r, http.MethodGet, "/pipeline?data="+url.QueryEscape("{broken"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPipelineDefaultsToStages(t *testing.T) {
	pipelines := &stubPipelines{}
	r := newRouter(pipelines, &stubDeals{})

	rec := do(r, http.MethodGet, "/pipeline/"+uuid.NewString(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{crm.RelationStages}, pipelines.relations)

	rec = do(r, http.MethodGet, "/pipeline/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: %q", store.ErrUnknownRelation, "owner"), http.StatusBadRequest},
		{fmt.Errorf("%w: fk", store.ErrConflict), http.StatusConflict},
		{&crm.ValidationError{Field: "stages.id", Message: "foreign"}, http.StatusBadRequest},
		{fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := newRouter(&stubPipelines{err: tc.err}, &stubDeals{})
		rec := do(r, http.MethodDelete, "/pipeline/"+uuid.NewString(), "")
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestCreatePipeline(t *testing.T) {
	pipelines := &stubPipelines{}
	r := newRouter(pipelines, &stubDeals{})

	rec := do(r, http.MethodPost, "/pipeline", `{"name":"Sales","stages":[{"name":"Lead"},{"name":"Closed"}]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Sales", body["name"])
	assert.Equal(t, true, body["isActive"])
	stages := body["stages"].([]interface{})
	require.Len(t, stages, 2)
	assert.Equal(t, float64(2), stages[1].(map[string]interface{})["index"])
	assert.Len(t, pipelines.created.Stages, 2)
}

func TestCreatePipelineValidation(t *testing.T) {
	pipelines := &stubPipelines{}
	r := newRouter(pipelines, &stubDeals{})

	rec := do(r, http.MethodPost, "/pipeline", `{"stages":[{"name":""}]}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "invalid request", body["error"])
	details := body["details"].(map[string]interface{})
	assert.Equal(t, "required", details["name"])
	assert.Equal(t, "required", details["stages[0].name"])
	assert.Empty(t, pipelines.created.Name)
}

func TestFindDealsResponseShape(t *testing.T) {
	creator := model.User{ID: uuid.New(), FirstName: "Ada", LastName: "Lovelace"}
	deal := model.Deal{ID: uuid.New(), Title: "Renewal", CreatedByUserID: creator.ID, CreatedBy: &creator, CreatedAt: time.Now()}
	pipelines := &stubPipelines{deals: crm.DealPage{Items: []model.Deal{deal}, Total: 1}}
	r := newRouter(pipelines, &stubDeals{})

	rec := do(r, http.MethodGet, "/pipeline/"+uuid.NewString()+"/deals", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["total"])
	item := body["items"].([]interface{})[0].(map[string]interface{})
	createdBy := item["createdBy"].(map[string]interface{})
	assert.Equal(t, creator.ID.String(), createdBy["id"])
	assert.Equal(t, "Ada Lovelace", createdBy["name"])
	assert.Equal(t, item["createdByUserId"], createdBy["id"])
}

func TestDealListFilters(t *testing.T) {
	deals := &stubDeals{}
	r := newRouter(&stubPipelines{}, deals)
	stageID := uuid.New()

	rec := do(r, http.MethodGet, "/deal?stageId="+stageID.String()+"&search=renew&relations=stage,client&take=3", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, deals.query.Filter.StageID)
	assert.Equal(t, stageID, *deals.query.Filter.StageID)
	require.NotNil(t, deals.query.Filter.TitleLike)
	assert.Equal(t, "renew", *deals.query.Filter.TitleLike)
	assert.Equal(t, []string{"stage", "client"}, deals.query.Relations)
	assert.Equal(t, 3, deals.query.Page.Limit)

	rec = do(r, http.MethodGet, "/deal?clientId=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDealCountAndStatistics(t *testing.T) {
	deals := &stubDeals{}
	r := newRouter(&stubPipelines{}, deals)

	rec := do(r, http.MethodGet, "/deal/count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), decode(t, rec)["total"])

	rec = do(r, http.MethodGet, "/deal/statistics?pipelineId="+uuid.NewString(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]interface{})
	assert.Equal(t, "Lead", items[0].(map[string]interface{})["stageName"])
}

func TestCreateDealValidation(t *testing.T) {
	deals := &stubDeals{}
	r := newRouter(&stubPipelines{}, deals)

	rec := do(r, http.MethodPost, "/deal", `{"title":"Renewal","stageId":"`+uuid.NewString()+`","probability":9}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "max", decode(t, rec)["details"].(map[string]interface{})["probability"])

	rec = do(r, http.MethodPost, "/deal", `{"title":"Renewal"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/deal", `{"title":"Renewal","stageId":"`+uuid.NewString()+`","probability":0}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, deals.created.Probability)
	assert.Equal(t, 0, *deals.created.Probability)
	assert.Equal(t, testCaller.UserID.String(), decode(t, rec)["createdByUserId"])
}

func TestMoveDeal(t *testing.T) {
	deals := &stubDeals{}
	r := newRouter(&stubPipelines{}, deals)
	stageID := uuid.New()

	rec := do(r, http.MethodPut, "/deal/"+uuid.NewString()+"/stage", `{"stageId":"`+stageID.String()+`"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stageID, deals.stageID)
	assert.Equal(t, stageID.String(), decode(t, rec)["stageId"])
}

func TestDeleteMissingDeal(t *testing.T) {
	r := newRouter(&stubPipelines{}, &stubDeals{err: store.ErrNotFound})

	rec := do(r, http.MethodDelete, "/deal/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateDealClientField(t *testing.T) {
	deals := &stubDeals{}
	r := newRouter(&stubPipelines{}, deals)
	target := "/deal/" + uuid.NewString()

	rec := do(r, http.MethodPut, target, `{"title":"Renewal"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, deals.updated.ClientID.Set)

	rec = do(r, http.MethodPut, target, `{"clientId":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, deals.updated.ClientID.Set)
	assert.Nil(t, deals.updated.ClientID.ID)

	client := uuid.New()
	rec = do(r, http.MethodPut, target, `{"clientId":"`+client.String()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, deals.updated.ClientID.ID)
	assert.Equal(t, client, *deals.updated.ClientID.ID)

	rec = do(r, http.MethodPut, target, `{"clientId":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDealPropertyEndpoints(t *testing.T) {
	deals := &stubDeals{}
	r := newRouter(&stubPipelines{}, deals)
	base := "/deal/" + uuid.NewString() + "/properties"

	rec := do(r, http.MethodPost, base, `{"name":"source","value":"web"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "source", deals.property.Name)
	props := decode(t, rec)["properties"].(map[string]interface{})
	assert.Equal(t, "web", props["source"])

	rec = do(r, http.MethodPost, base, `{"value":"web"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPut, base+"/source", `{"value":"ads"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "source", deals.propertyName)
	assert.Equal(t, "ads", deals.propertyValue)

	rec = do(r, http.MethodDelete, base+"/region", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "region", deals.propertyName)
}

func TestDealPropertyErrors(t *testing.T) {
	base := "/deal/" + uuid.NewString() + "/properties"

	r := newRouter(&stubPipelines{}, &stubDeals{err: fmt.Errorf("%w: property %q already exists", store.ErrConflict, "source")})
	rec := do(r, http.MethodPost, base, `{"name":"source","value":"web"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	r = newRouter(&stubPipelines{}, &stubDeals{err: fmt.Errorf("%w: property %q", store.ErrNotFound, "missing")})
	rec = do(r, http.MethodDelete, base+"/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDealResponseAlwaysCarriesProperties(t *testing.T) {
	r := newRouter(&stubPipelines{}, &stubDeals{})

	rec := do(r, http.MethodGet, "/deal/"+uuid.NewString(), "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{}, decode(t, rec)["properties"])
}
