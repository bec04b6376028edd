package service

import "errors"

var (
	ErrUnauthenticated        = errors.New("requester is not authenticated")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrContractNotFound       = errors.New("contract not found")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrNotAllowed             = errors.New("requester is not allowed")
	ErrInvalidStatus          = errors.New("invalid status")
	ErrPaymentAlreadyApproved = errors.New("contract already has an approved payment")
)
