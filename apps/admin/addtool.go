package main

import (
	"context"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/tmalore/studentos/core"
	"github.com/tmalore/studentos/core/credit"
)

// addTool registers a new tool in the catalog, active by default.
func (cli *commandLine) addTool(name, slug, description, category string, cost int) error {
	ctx := context.Background()
	now := time.Now().UTC()

	tool := credit.Tool{
		Name:        core.CleanString(name),
		Slug:        core.CleanString(slug, true /* lower */),
		Description: null.NewString(description, description != ""),
		CreditCost:  cost,
		IsActive:    true,
		Category:    null.NewString(category, category != ""),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := cli.creditRepo.CheckToolSlugUniqueness(ctx, tool.Slug); err != nil {
		return err
	}
	_, err := cli.creditRepo.CreateTool(ctx, tool)
	return err
}
