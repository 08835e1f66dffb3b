package model

import "errors"

var (
	// Student related errors
	ErrStudentNotFound      = errors.New("student not found")
	ErrStudentAlreadyExists = errors.New("student already exists")
	ErrInvalidCredentials   = errors.New("invalid credentials")

	// ErrControlNumbersExhausted means the six digit sequence has no room
	// left; registration stops rather than reuse a control number.
	ErrControlNumbersExhausted = errors.New("control numbers exhausted")

	// Token and session errors
	ErrUnauthenticated = errors.New("not authenticated")
	ErrInvalidToken    = errors.New("token has expired or is invalid")

	// Collaborator failures
	ErrStorageFailure      = errors.New("storage failure")
	ErrMailDeliveryFailure = errors.New("mail not sent")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
