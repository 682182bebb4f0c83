package handlers

import (
	"github.com/dealflow/dealflow/pkg/crm"
	"github.com/dealflow/dealflow/pkg/model"
)

type stageResponse struct {
	ID          string `json:"id"`
	PipelineID  string `json:"pipelineId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Index       int    `json:"index"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type pipelineResponse struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	OrganizationID  string          `json:"organizationId"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	IsActive        bool            `json:"isActive"`
	Stages          []stageResponse `json:"stages,omitempty"`
	CreatedByUserID *string         `json:"createdByUserId,omitempty"`
	CreatedAt       string          `json:"createdAt"`
	UpdatedAt       string          `json:"updatedAt"`
}

type userResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
}

type contactResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PrimaryEmail string `json:"primaryEmail,omitempty"`
}

type dealResponse struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenantId"`
	OrganizationID  string           `json:"organizationId"`
	Title           string           `json:"title"`
	Probability     *int             `json:"probability"`
	StageID         string           `json:"stageId"`
	Stage           *stageResponse   `json:"stage,omitempty"`
	ClientID        *string          `json:"clientId"`
	Client          *contactResponse `json:"client,omitempty"`
	Properties      map[string]any   `json:"properties"`
	CreatedByUserID string           `json:"createdByUserId"`
	CreatedBy       *userResponse    `json:"createdBy,omitempty"`
	CreatedAt       string           `json:"createdAt"`
	UpdatedAt       string           `json:"updatedAt"`
}

type pageResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

func mapStage(stage *model.PipelineStage) stageResponse {
	return stageResponse{
		ID:          stage.ID.String(),
		PipelineID:  stage.PipelineID.String(),
		Name:        stage.Name,
		Description: stage.Description,
		Index:       stage.Index,
		CreatedAt:   formatTime(stage.CreatedAt),
		UpdatedAt:   formatTime(stage.UpdatedAt),
	}
}

func mapPipeline(pipeline *model.Pipeline) pipelineResponse {
	response := pipelineResponse{
		ID:             pipeline.ID.String(),
		TenantID:       pipeline.TenantID.String(),
		OrganizationID: pipeline.OrganizationID.String(),
		Name:           pipeline.Name,
		Description:    pipeline.Description,
		IsActive:       pipeline.IsActive,
		CreatedAt:      formatTime(pipeline.CreatedAt),
		UpdatedAt:      formatTime(pipeline.UpdatedAt),
	}
	if pipeline.CreatedByUserID != nil {
		id := pipeline.CreatedByUserID.String()
		response.CreatedByUserID = &id
	}
	if len(pipeline.Stages) > 0 {
		response.Stages = make([]stageResponse, 0, len(pipeline.Stages))
		for i := range pipeline.Stages {
			response.Stages = append(response.Stages, mapStage(&pipeline.Stages[i]))
		}
	}
	return response
}

func mapPipelinePage(page crm.PipelinePage) pageResponse[pipelineResponse] {
	items := make([]pipelineResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, mapPipeline(&page.Items[i]))
	}
	return pageResponse[pipelineResponse]{Items: items, Total: page.Total}
}

func mapUser(user *model.User) *userResponse {
	if user == nil {
		return nil
	}
	return &userResponse{
		ID:        user.ID.String(),
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Name:      user.FullName(),
		Email:     user.Email,
	}
}

func mapDeal(deal *model.Deal) dealResponse {
	response := dealResponse{
		ID:              deal.ID.String(),
		TenantID:        deal.TenantID.String(),
		OrganizationID:  deal.OrganizationID.String(),
		Title:           deal.Title,
		Probability:     deal.Probability,
		StageID:         deal.StageID.String(),
		Properties:      map[string]any(deal.Properties),
		CreatedByUserID: deal.CreatedByUserID.String(),
		CreatedBy:       mapUser(deal.CreatedBy),
		CreatedAt:       formatTime(deal.CreatedAt),
		UpdatedAt:       formatTime(deal.UpdatedAt),
	}
	if deal.Stage != nil {
		stage := mapStage(deal.Stage)
		response.Stage = &stage
	}
	if deal.ClientID != nil {
		id := deal.ClientID.String()
		response.ClientID = &id
	}
	if response.Properties == nil {
		response.Properties = map[string]any{}
	}
	if deal.Client != nil {
		response.Client = &contactResponse{
			ID:           deal.Client.ID.String(),
			Name:         deal.Client.Name,
			PrimaryEmail: deal.Client.PrimaryEmail,
		}
	}
	return response
}

func mapDealPage(page crm.DealPage) pageResponse[dealResponse] {
	items := make([]dealResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, mapDeal(&page.Items[i]))
	}
	return pageResponse[dealResponse]{Items: items, Total: page.Total}
}
