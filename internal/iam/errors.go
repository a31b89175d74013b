package iam

import "errors"

var (
	ErrNotFound                 = errors.New("iam: not found")
	ErrConflict                 = errors.New("iam: resource conflict")
	ErrInvalidInput             = errors.New("iam: invalid input")
	ErrInvalidCredentials       = errors.New("iam: invalid credentials")
	ErrAccountNotActive         = errors.New("iam: user account is not active")
	ErrTokenExpired             = errors.New("iam: token has expired")
	ErrTokenInvalid             = errors.New("iam: invalid token")
	ErrServiceNotActive         = errors.New("iam: service is not active")
	ErrClientCredentialsInvalid = errors.New("iam: invalid client credentials")
)
