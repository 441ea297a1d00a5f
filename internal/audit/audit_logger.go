package audit

import (
	"encoding/json"
	"log"
	"time"
)

type AuditEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	AccountID     string    `json:"account_id"`
	Amount        float64   `json:"amount"`
	Status        string    `json:"status"`
	Details       any       `json:"details"`
}

type AuditLogger struct{}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

func (a *AuditLogger) LogBet(transactionID, accountID, marketID string, option int, stake float64) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "BET_PLACED",
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        stake,
		Status:        "SUCCESS",
		Details: map[string]any{
			"market_id": marketID,
			"option":    option,
		},
	}
	a.log(event)
}

func (a *AuditLogger) LogSettlement(marketID string, outcome int, totalPool, platformFee float64, winners int) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "MARKET_RESOLVED",
		TransactionID: marketID,
		Amount:        totalPool,
		Status:        "SUCCESS",
		Details: map[string]any{
			"outcome":      outcome,
			"platform_fee": platformFee,
			"winners":      winners,
		},
	}
	a.log(event)
}

func (a *AuditLogger) LogWithdrawal(withdrawalID, accountID string, gross, fee, fiat float64) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "WITHDRAWAL_REQUESTED",
		TransactionID: withdrawalID,
		AccountID:     accountID,
		Amount:        gross,
		Status:        "SUCCESS",
		Details: map[string]any{
			"fee":            fee,
			"net_fiat_value": fiat,
		},
	}
	a.log(event)
}

func (a *AuditLogger) LogGrant(transactionID, accountID, entryType string, amount float64) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "GRANT",
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details:       map[string]string{"entry_type": entryType},
	}
	a.log(event)
}

func (a *AuditLogger) LogError(transactionID, accountID string, err error) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		AccountID:     accountID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
