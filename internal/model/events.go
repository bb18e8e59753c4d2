package model

// Kafka topic
const (
	TopicPaymentCompleted = "bridge-payment-completed"
	TopicPaymentFailed    = "bridge-payment-failed"
	TopicMintConfirmed    = "bridge-mint-confirmed"
	TopicMintFailed       = "bridge-mint-failed"
	TopicCampaignCreated  = "bridge-campaign-created"
)

// PaymentEvent 支付状态变更事件 (发送到 Kafka)
type PaymentEvent struct {
	PixID             string `json:"pix_id"`
	CorrelationID     string `json:"correlation_id"`
	Amount            string `json:"amount"`
	DestinationWallet string `json:"destination_wallet"`
	Status            string `json:"status"`
	Reason            string `json:"reason,omitempty"`
	Timestamp         int64  `json:"timestamp"`
}

// MintEvent 铸币结果事件 (发送到 Kafka)
type MintEvent struct {
	CorrelationID string `json:"correlation_id"`
	ToAddress     string `json:"to_address"`
	Amount        string `json:"amount"`
	TxHash        string `json:"tx_hash,omitempty"`
	BlockNumber   int64  `json:"block_number,omitempty"`
	Status        string `json:"status"` // CONFIRMED/FAILED
	Error         string `json:"error,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// CampaignCreatedEvent 新活动事件 (发送到 Kafka)
type CampaignCreatedEvent struct {
	CampaignID      int64  `json:"campaign_id"`
	ContractAddress string `json:"contract_address"`
	Creator         string `json:"creator"`
	Title           string `json:"title"`
	Goal            string `json:"goal"`
	TxHash          string `json:"tx_hash"`
	BlockNumber     int64  `json:"block_number"`
}
