package router

import "errors"

var (
	ErrUnknownToken  = errors.New("unknown token")
	ErrNoRouteFound  = errors.New("no route found")
	ErrInvalidAmount = errors.New("invalid amount")
)
