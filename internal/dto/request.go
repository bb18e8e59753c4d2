package dto

// PaginationQuery 分页查询参数
type PaginationQuery struct {
	Page     int `form:"page" json:"page"`
	PageSize int `form:"page_size" json:"page_size"`
}

// Normalize 规范化分页参数
func (p *PaginationQuery) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
}

// CreateChargeRequest 创建收款单，amount 为法币金额字符串，最多两位小数
type CreateChargeRequest struct {
	Amount            string `json:"amount" binding:"required"`
	DestinationWallet string `json:"destinationWallet" binding:"required"`
}

// ListCampaignsRequest 活动列表查询
type ListCampaignsRequest struct {
	PaginationQuery
	ActiveOnly bool `form:"active"`
}

// CreateCampaignRequest 创建活动
type CreateCampaignRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Goal        string `json:"goal" binding:"required"`
	Beneficiary string `json:"beneficiary" binding:"required"`
}
