package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eidos-exchange/eidos-bridge/internal/model"
)

// 内存实现仅适用于单实例部署，进程重启后数据丢失

type memoryPaymentRepository struct {
	mu     sync.RWMutex
	nextID int64
	byCorr map[string]*model.PaymentRecord
	byPix  map[string]*model.PaymentRecord
	mints  *memoryMintRepository
}

// NewMemoryPaymentRepository 创建内存支付记录仓储
func NewMemoryPaymentRepository() PaymentRepository {
	payments, _ := NewMemoryLedger()
	return payments
}

// NewMemoryLedger 创建共用一份数据的内存支付与铸币仓储
func NewMemoryLedger() (PaymentRepository, MintRepository) {
	mints := &memoryMintRepository{txs: make(map[string]*model.MintTx)}
	payments := &memoryPaymentRepository{
		byCorr: make(map[string]*model.PaymentRecord),
		byPix:  make(map[string]*model.PaymentRecord),
		mints:  mints,
	}
	return payments, mints
}

func (r *memoryPaymentRepository) Create(ctx context.Context, rec *model.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byCorr[rec.CorrelationID]; ok {
		return ErrDuplicatePayment
	}
	if _, ok := r.byPix[rec.PixID]; ok {
		return ErrDuplicatePayment
	}

	now := time.Now().UnixMilli()
	r.nextID++
	rec.ID = r.nextID
	rec.CreatedAt = now
	rec.UpdatedAt = now

	stored := *rec
	r.byCorr[rec.CorrelationID] = &stored
	r.byPix[rec.PixID] = &stored
	return nil
}

func (r *memoryPaymentRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*model.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byCorr[correlationID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memoryPaymentRepository) GetByPixID(ctx context.Context, pixID string) (*model.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byPix[pixID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memoryPaymentRepository) CompareAndSetStatus(ctx context.Context, correlationID string, from, to model.PaymentStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byCorr[correlationID]
	if !ok || rec.Status != from {
		return ErrOptimisticLock
	}

	now := time.Now().UnixMilli()
	rec.Status = to
	rec.UpdatedAt = now
	switch to {
	case model.PaymentStatusCompleted:
		rec.CompletedAt = now
	case model.PaymentStatusFailed:
		rec.FailedAt = now
		rec.FailureReason = reason
	}
	return nil
}

func (r *memoryPaymentRepository) UpdateCharge(ctx context.Context, correlationID string, charge *model.ChargeFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byCorr[correlationID]
	if !ok {
		return ErrPaymentNotFound
	}
	rec.ProcessorChargeID = charge.ProcessorChargeID
	rec.BRCode = charge.BRCode
	rec.QRCodeImage = charge.QRCodeImage
	rec.PaymentLinkURL = charge.PaymentLinkURL
	rec.ExpiresAt = charge.ExpiresAt
	rec.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (r *memoryPaymentRepository) CountByStatus(ctx context.Context) (map[model.PaymentStatus]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[model.PaymentStatus]int64)
	for _, rec := range r.byCorr {
		counts[rec.Status]++
	}
	return counts, nil
}

func (r *memoryPaymentRepository) ListCompletedWithoutMint(ctx context.Context, completedBefore int64, limit int) ([]*model.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.PaymentRecord
	for _, rec := range r.byCorr {
		if rec.Status != model.PaymentStatusCompleted || rec.CompletedAt >= completedBefore {
			continue
		}
		if r.mints.has(rec.CorrelationID) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt < out[j].CompletedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryMintRepository struct {
	mu     sync.RWMutex
	nextID int64
	txs    map[string]*model.MintTx
}

func (r *memoryMintRepository) has(correlationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.txs[correlationID]
	return ok
}

func (r *memoryMintRepository) Create(ctx context.Context, tx *model.MintTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.txs[tx.CorrelationID]; ok {
		return ErrMintExists
	}
	now := time.Now().UnixMilli()
	r.nextID++
	tx.ID = r.nextID
	tx.CreatedAt = now
	tx.UpdatedAt = now
	stored := *tx
	r.txs[tx.CorrelationID] = &stored
	return nil
}

func (r *memoryMintRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*model.MintTx, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.txs[correlationID]
	if !ok {
		return nil, ErrMintNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *memoryMintRepository) MarkSubmitted(ctx context.Context, correlationID, from, txHash string, nonce int64) error {
	return r.cas(correlationID, []model.MintStatus{model.MintStatusPending}, func(tx *model.MintTx, now int64) {
		tx.Status = model.MintStatusSubmitted
		tx.FromAddress = from
		tx.TxHash = txHash
		tx.Nonce = nonce
		tx.Attempts++
		tx.SubmittedAt = now
	})
}

func (r *memoryMintRepository) MarkConfirmed(ctx context.Context, correlationID string, blockNumber, gasUsed int64) error {
	return r.cas(correlationID, []model.MintStatus{model.MintStatusSubmitted, model.MintStatusFailed}, func(tx *model.MintTx, now int64) {
		tx.Status = model.MintStatusConfirmed
		tx.BlockNumber = blockNumber
		tx.GasUsed = gasUsed
		tx.ErrorMessage = ""
		tx.ConfirmedAt = now
	})
}

func (r *memoryMintRepository) MarkFailed(ctx context.Context, correlationID, errMsg string) error {
	return r.cas(correlationID, []model.MintStatus{model.MintStatusPending, model.MintStatusSubmitted}, func(tx *model.MintTx, now int64) {
		tx.Status = model.MintStatusFailed
		tx.ErrorMessage = errMsg
	})
}

func (r *memoryMintRepository) ResetForRetry(ctx context.Context, correlationID string) error {
	return r.cas(correlationID, []model.MintStatus{model.MintStatusFailed}, func(tx *model.MintTx, now int64) {
		tx.Status = model.MintStatusPending
	})
}

func (r *memoryMintRepository) cas(correlationID string, from []model.MintStatus, apply func(tx *model.MintTx, now int64)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[correlationID]
	if !ok {
		return ErrOptimisticLock
	}
	for _, s := range from {
		if tx.Status == s {
			now := time.Now().UnixMilli()
			apply(tx, now)
			tx.UpdatedAt = now
			return nil
		}
	}
	return ErrOptimisticLock
}

func (r *memoryMintRepository) ListByStatus(ctx context.Context, status model.MintStatus, limit int) ([]*model.MintTx, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.MintTx
	for _, tx := range r.txs {
		if tx.Status == status {
			cp := *tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryCampaignRepository struct {
	mu        sync.RWMutex
	campaigns map[string]*model.Campaign
}

// NewMemoryCampaignRepository 创建内存活动镜像仓储
func NewMemoryCampaignRepository() CampaignRepository {
	return &memoryCampaignRepository{campaigns: make(map[string]*model.Campaign)}
}

func (r *memoryCampaignRepository) Upsert(ctx context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UnixMilli()
	if existing, ok := r.campaigns[c.ContractAddress]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	} else {
		c.ID = int64(len(r.campaigns) + 1)
		if c.CreatedAt == 0 {
			c.CreatedAt = now
		}
	}
	c.UpdatedAt = now
	c.SyncedAt = now
	stored := *c
	r.campaigns[c.ContractAddress] = &stored
	return nil
}

func (r *memoryCampaignRepository) GetByAddress(ctx context.Context, address string) (*model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.campaigns[address]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memoryCampaignRepository) List(ctx context.Context, activeOnly bool, page *Pagination) ([]*model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*model.Campaign
	for _, c := range r.campaigns {
		if activeOnly && !c.Active {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ChainCreatedAt > all[j].ChainCreatedAt })

	page.Total = int64(len(all))
	start := page.Offset()
	if start >= len(all) {
		return nil, nil
	}
	end := start + page.Limit()
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (r *memoryCampaignRepository) ListAddresses(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addrs := make([]string, 0, len(r.campaigns))
	for addr := range r.campaigns {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs, nil
}

func (r *memoryCampaignRepository) UpdateProgress(ctx context.Context, address string, p *CampaignProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[address]
	if !ok {
		return ErrCampaignNotFound
	}
	now := time.Now().UnixMilli()
	c.Raised = p.Raised
	c.Balance = p.Balance
	c.DonorCount = p.DonorCount
	c.Active = p.Active
	c.SyncedAt = now
	c.UpdatedAt = now
	return nil
}

type memoryCheckpointRepository struct {
	mu     sync.Mutex
	blocks map[string]int64
}

// NewMemoryCheckpointRepository 创建内存扫块进度仓储
func NewMemoryCheckpointRepository() CheckpointRepository {
	return &memoryCheckpointRepository{blocks: make(map[string]int64)}
}

func (r *memoryCheckpointRepository) Get(ctx context.Context, name string) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blocks[name]
	return b, ok, nil
}

func (r *memoryCheckpointRepository) Save(ctx context.Context, name string, chainID, block int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[name] = block
	return nil
}
