package fetch

import (
	"context"
	"fmt"
)

// RodFetchFunc renders a page in the browser. It is injected from main so
// this package never imports the scraper.
type RodFetchFunc func(ctx context.Context, req *Request) (*Result, error)

// RodEngine is a browser-based engine that delegates to the scraper via a
// callback. forceStealth distinguishes "rod" from "rod-stealth".
type RodEngine struct {
	fetchFunc    RodFetchFunc
	forceStealth bool
	name         string
}

// NewRodEngine creates a RodEngine.
func NewRodEngine(fetchFunc RodFetchFunc, forceStealth bool) *RodEngine {
	name := "rod"
	if forceStealth {
		name = "rod-stealth"
	}
	return &RodEngine{
		fetchFunc:    fetchFunc,
		forceStealth: forceStealth,
		name:         name,
	}
}

func (e *RodEngine) Name() string { return e.name }

// Renders is always true: the browser captures geometry.
func (e *RodEngine) Renders() bool { return true }

func (e *RodEngine) Fetch(ctx context.Context, req *Request) (*Result, error) {
	if e.fetchFunc == nil {
		return nil, fmt.Errorf("%s: fetchFunc not configured", e.name)
	}

	// Clone the request so we don't mutate the caller's copy.
	r := *req
	if e.forceStealth {
		r.Stealth = true
	}

	result, err := e.fetchFunc(ctx, &r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}

	result.EngineName = e.name
	return result, nil
}
