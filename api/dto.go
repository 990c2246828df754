/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Field names follow the
  public contract (camelCase) and are decoupled from the credit types.

NAMING CONVENTION:
  - *Request:  Request body types from clients
  - *Response: Response bodies
  - *DTO:      Items nested in responses

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/credit-ledger/credit"
)

// =============================================================================
// AUTH
// =============================================================================

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

// OperationRequest is the body of POST /operation/calculate. value1 may be
// omitted for RANDOM_STRING; value2 is null for unary operations.
type OperationRequest struct {
	OperationType string   `json:"operationType"`
	Value1        *float64 `json:"value1"`
	Value2        *float64 `json:"value2"`
}

type OperationResponse struct {
	OperationResult string `json:"operationResult"`
	Amount          int    `json:"amount"`
}

type UserStatsResponse struct {
	CurrentBalance  int `json:"currentBalance"`
	TotalOperations int `json:"totalOperations"`
}

// RecordDTO is one history entry.
type RecordDTO struct {
	ID              int64     `json:"id"`
	OperationType   string    `json:"operationType"`
	OperationCost   int       `json:"operationCost"`
	UserBalance     int       `json:"userBalance"`
	OperationResult string    `json:"operationResult"`
	Date            time.Time `json:"date"`
}

type RecordPageResponse struct {
	Content       []RecordDTO `json:"content"`
	Page          int         `json:"page"`
	Size          int         `json:"size"`
	TotalElements int         `json:"totalElements"`
	TotalPages    int         `json:"totalPages"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRecordDTO(r credit.Record) RecordDTO {
	return RecordDTO{
		ID:              r.ID,
		OperationType:   r.Operation.Kind.String(),
		OperationCost:   r.Operation.Cost,
		UserBalance:     r.BalanceAfter,
		OperationResult: r.Result,
		Date:            r.CreatedAt,
	}
}

func toRecordPage(p credit.Page) RecordPageResponse {
	content := make([]RecordDTO, len(p.Items))
	for i, r := range p.Items {
		content[i] = toRecordDTO(r)
	}
	return RecordPageResponse{
		Content:       content,
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: p.TotalItems,
		TotalPages:    p.TotalPages,
	}
}
