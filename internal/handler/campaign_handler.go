package handler

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/eidos-exchange/eidos-bridge/internal/dto"
	"github.com/eidos-exchange/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos-bridge/internal/service"
)

// CampaignService 活动镜像服务
type CampaignService interface {
	Create(ctx context.Context, in *service.CreateCampaignInput) (*model.Campaign, error)
	Get(ctx context.Context, address string) (*model.Campaign, error)
	List(ctx context.Context, activeOnly bool, page *repository.Pagination) ([]*model.Campaign, error)
}

// ProgressResolver 活动进度对账
type ProgressResolver interface {
	ResolveProgress(ctx context.Context, campaignAddress string) (*service.Progress, error)
}

// CampaignHandler 活动处理器
type CampaignHandler struct {
	campaigns CampaignService
	progress  ProgressResolver
}

// NewCampaignHandler 创建活动处理器
func NewCampaignHandler(campaigns CampaignService, progress ProgressResolver) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns, progress: progress}
}

// ListCampaigns 活动列表
// GET /campaigns
func (h *CampaignHandler) ListCampaigns(c *gin.Context) {
	var req dto.ListCampaignsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	req.Normalize()

	page := &repository.Pagination{Page: req.Page, PageSize: req.PageSize}
	campaigns, err := h.campaigns.List(c.Request.Context(), req.ActiveOnly, page)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	items := make([]*dto.CampaignResponse, 0, len(campaigns))
	for _, cp := range campaigns {
		items = append(items, campaignResponse(cp))
	}
	SuccessWithPagination(c, items, page.Total, page.Page, page.PageSize)
}

// GetCampaign 活动镜像
// GET /campaigns/:address
func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		BadRequest(c, "campaign address must be a hex address")
		return
	}

	cp, err := h.campaigns.Get(c.Request.Context(), address)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Success(c, campaignResponse(cp))
}

// GetProgress 活动进度，链上可读时以链上为准，否则返回 stale 镜像
// GET /campaigns/:address/progress
func (h *CampaignHandler) GetProgress(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		BadRequest(c, "campaign address must be a hex address")
		return
	}

	p, err := h.progress.ResolveProgress(c.Request.Context(), address)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	Success(c, &dto.ProgressResponse{
		ContractAddress: p.ContractAddress,
		Raised:          p.Raised,
		Balance:         p.Balance,
		Goal:            p.Goal,
		DonorCount:      p.DonorCount,
		Active:          p.Active,
		Source:          p.Source,
		Stale:           p.Stale,
		SyncedAt:        p.SyncedAt,
	})
}

// CreateCampaign 通过工厂合约创建活动，需运维认证
// POST /admin/campaigns
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req dto.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	goal, err := decimal.NewFromString(req.Goal)
	if err != nil || !goal.IsPositive() {
		BadRequest(c, "goal must be a positive decimal string")
		return
	}
	if !common.IsHexAddress(req.Beneficiary) {
		Error(c, dto.ErrInvalidWalletAddr)
		return
	}

	cp, err := h.campaigns.Create(c.Request.Context(), &service.CreateCampaignInput{
		Title:       req.Title,
		Description: req.Description,
		Goal:        goal,
		Beneficiary: req.Beneficiary,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Success(c, campaignResponse(cp))
}

func campaignResponse(cp *model.Campaign) *dto.CampaignResponse {
	return &dto.CampaignResponse{
		CampaignID:      cp.CampaignID,
		ContractAddress: cp.ContractAddress,
		Title:           cp.Title,
		Description:     cp.Description,
		Creator:         cp.Creator,
		Beneficiary:     cp.Beneficiary,
		Goal:            cp.Goal,
		Raised:          cp.Raised,
		DonorCount:      cp.DonorCount,
		Active:          cp.Active,
		SyncedAt:        cp.SyncedAt,
	}
}
